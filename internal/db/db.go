package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultDBName = "livehub.db"

// Dialects understood by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type Config struct {
	Workspace string
	// URL selects the backend. Empty or sqlite:// uses the workspace file,
	// sqlite:///abs/path.db an explicit file, postgres://... a PostgreSQL server.
	URL string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".livehub", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".livehub")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Dialect reports which backend a storage URL selects.
func Dialect(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return DialectSQLite, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid storage url: %w", err)
	}
	switch u.Scheme {
	case "sqlite", "file":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

// Open opens the configured database. SQLite is limited to a single
// connection so that read-modify-write transactions are serialized.
func Open(cfg Config) (*sqlx.DB, error) {
	dialect, err := Dialect(cfg.URL)
	if err != nil {
		return nil, err
	}
	if dialect == DialectPostgres {
		conn, err := sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	path := sqlitePath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	return conn, nil
}

func sqlitePath(cfg Config) string {
	if cfg.URL == "" {
		return dbPath(cfg.Workspace)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return dbPath(cfg.Workspace)
	}
	p := u.Path
	if u.Host != "" {
		p = filepath.Join(u.Host, u.Path)
	}
	if p == "" || p == "/" {
		return dbPath(cfg.Workspace)
	}
	if !filepath.IsAbs(p) && cfg.Workspace != "" {
		p = filepath.Join(cfg.Workspace, p)
	}
	return p
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
