package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models livehub.yml.
type Config struct {
	Server struct {
		Addr           string `yaml:"addr"`
		BasePath       string `yaml:"base_path"`
		StaticRedirect string `yaml:"static_redirect"`
		CORS           struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
	} `yaml:"server"`
	Storage struct {
		URL         string `yaml:"url"`
		CASAttempts int    `yaml:"cas_attempts"`
	} `yaml:"storage"`
	Vote struct {
		DefaultSongs  []string `yaml:"default_songs"`
		SweepInterval string   `yaml:"sweep_interval"`
	} `yaml:"vote"`
	Requests  RequestDefaults `yaml:"requests"`
	Generator GeneratorConfig `yaml:"generator"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// RequestDefaults fill optional fields of a submitted song request.
type RequestDefaults struct {
	DedicatedTo string `yaml:"dedicated_to"`
	Occasion    string `yaml:"occasion"`
	UserName    string `yaml:"user_name"`
}

type GeneratorConfig struct {
	Endpoint        string  `yaml:"endpoint"`
	Model           string  `yaml:"model"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Timeout         string  `yaml:"timeout"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Prompt          string  `yaml:"prompt"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with livehub config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.StaticRedirect != "" {
		u, err := url.Parse(c.Server.StaticRedirect)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.server.static_redirect must be an absolute url")
		}
	}
	if c.Storage.CASAttempts < 0 {
		return fmt.Errorf("config.storage.cas_attempts must not be negative")
	}
	for i, song := range c.Vote.DefaultSongs {
		if strings.TrimSpace(song) == "" {
			return fmt.Errorf("config.vote.default_songs[%d] is empty", i)
		}
	}
	if _, err := parseDuration(c.Vote.SweepInterval); err != nil {
		return fmt.Errorf("config.vote.sweep_interval: %w", err)
	}
	if _, err := parseDuration(c.Generator.Timeout); err != nil {
		return fmt.Errorf("config.generator.timeout: %w", err)
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return fmt.Errorf("config.generator.temperature must be between 0 and 2")
	}
	if c.Generator.MaxOutputTokens < 0 {
		return fmt.Errorf("config.generator.max_output_tokens must not be negative")
	}
	if c.Generator.Prompt != "" {
		if _, err := ParsePrompt(c.Generator.Prompt); err != nil {
			return fmt.Errorf("config.generator.prompt: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// SweepInterval returns how often expired votes are closed; zero disables the sweeper.
func (c *Config) SweepInterval() time.Duration {
	d, _ := parseDuration(c.Vote.SweepInterval)
	return d
}

func (g GeneratorConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(g.Timeout)
	return d
}

// APIKey resolves the generator key from the configured environment variable.
func (g GeneratorConfig) APIKey() string {
	env := g.APIKeyEnv
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	return os.Getenv(env)
}

// ParsePrompt compiles a generator prompt template. The template receives a
// domain.Request and may use the join helper.
func ParsePrompt(text string) (*template.Template, error) {
	return template.New("prompt").Funcs(template.FuncMap{"join": strings.Join}).Option("missingkey=error").Parse(text)
}

func parseDuration(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "livehub.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: "127.0.0.1:8080"
  base_path: ""
  static_redirect: "https://giobi.github.io/thecenti"
  cors:
    allowed_origins: ["*"]

storage:
  url: ""
  cas_attempts: 8

vote:
  default_songs:
    - Albachiara
    - Vita Spericolata
    - Sally
  sweep_interval: 1s

requests:
  dedicated_to: N/A
  occasion: N/A
  user_name: Anonimo

generator:
  endpoint: https://generativelanguage.googleapis.com/v1beta
  model: gemini-2.0-flash-exp
  api_key_env: GEMINI_API_KEY
  timeout: 60s
  temperature: 1.0
  max_output_tokens: 2048
  prompt: |
    Sei songwriter per TheCenti, cover band italiana rock/pop.
    Scrivi canzoni personalizzate in italiano basate sulle informazioni fornite.

    Struttura obbligatoria:
    - verse1 (strofa 1): 4 linee
    - chorus (ritornello): 4 linee
    - verse2 (strofa 2): 4 linee
    - bridge (ponte): 4 linee
    - finalChorus (ritornello finale): 4 linee

    Ogni linea MAX 60 caratteri per leggibilità live.
    Output SOLO JSON valido, nessun altro testo.

    Formato output:
    {
      "lyrics": {
        "title": "Titolo Canzone",
        "verse1": ["linea1", "linea2", "linea3", "linea4"],
        "chorus": ["linea1", "linea2", "linea3", "linea4"],
        "verse2": ["linea1", "linea2", "linea3", "linea4"],
        "bridge": ["linea1", "linea2", "linea3", "linea4"],
        "finalChorus": ["linea1", "linea2", "linea3", "linea4"]
      },
      "genre": "rock-italiano",
      "mood": "divertente"
    }

    Crea canzone per:

    DEDICATA A: {{.DedicatedTo}}
    OCCASIONE: {{.Occasion}}
    PERSONALITÀ: {{join .Personality ", "}}
    STORIA/ANEDDOTO: {{.Story}}

    Crea una canzone divertente, memorabile e personalizzata. Usa dettagli dalla storia per rendere il testo unico.

webhooks: []
`
