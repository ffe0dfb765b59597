package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"livehub/internal/broadcast"
	"livehub/internal/domain"
	"livehub/internal/engine"
	"livehub/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	Hub            *broadcast.Hub
	BasePath       string
	StaticRedirect string
	AllowedOrigins []string
	Auth           AuthConfig
	Logger         *slog.Logger
}

// Error codes carried in the "error" field of every failure body.
const (
	CodeVotingClosed     = "VOTING_CLOSED"
	CodeAlreadyVoted     = "ALREADY_VOTED"
	CodeAIDisabled       = "AI_DISABLED"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL_ERROR"
)

type requestKey struct{}
type bodyBytesKey struct{}

// apiError is encoded flat: {"error": code, "message": text, ...details}.
type apiError struct {
	status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func (e *apiError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Details)+2)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	return json.Marshal(out)
}

// New returns an HTTP handler exposing the live control panel API.
func New(cfg Config) (http.Handler, error) {
	basePath := strings.TrimRight(strings.TrimSpace(cfg.BasePath), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(cors(cfg.AllowedOrigins))
	router.Use(captureBody)
	router.Use(newAuthMiddleware(cfg.Auth))

	router.NotFound(staticRedirect(cfg.StaticRedirect))
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, methodNotAllowed())
	})

	hcfg := huma.DefaultConfig("Livehub API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	hcfg.SchemasPath = ""
	// no $schema links in response bodies
	hcfg.CreateHooks = nil
	hcfg.Transformers = nil
	api := humachi.New(router, hcfg)
	var group huma.API = api
	if basePath != "" {
		group = huma.NewGroup(api, basePath)
	}

	registerDocs(router, basePath)
	registerHealth(group)
	registerState(group, cfg)
	registerVote(group, cfg)
	registerAI(group, cfg)
	if cfg.Hub != nil {
		router.Get(path.Join("/", basePath, "ws"), cfg.Hub.ServeWS)
	}
	registerOpenAPI(router, api, basePath)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("operator auth disabled; set LIVEHUB_JWT_SECRET to require bearer tokens")
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Code: code, Message: message, Details: details}
}

func methodNotAllowed() huma.StatusError {
	return newAPIError(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var already *engine.AlreadyVotedError
	if errors.As(err, &already) {
		return newAPIError(http.StatusConflict, CodeAlreadyVoted, "Already voted", map[string]any{"previousVote": already.Previous})
	}
	var gen *engine.GenerationError
	if errors.As(err, &gen) {
		return newAPIError(http.StatusInternalServerError, CodeGenerationFailed, "Song generation failed", map[string]any{"details": gen.Err.Error()})
	}
	switch {
	case errors.Is(err, engine.ErrVotingClosed):
		return newAPIError(http.StatusForbidden, CodeVotingClosed, "Voting is closed", nil)
	case errors.Is(err, engine.ErrAIDisabled):
		return newAPIError(http.StatusForbidden, CodeAIDisabled, "AI requests are disabled", nil)
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, CodeInvalidInput, err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, CodeInternal, "Internal Server Error", map[string]any{"details": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeInvalidInput
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusInternalServerError:
		return CodeInternal
	default:
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// staticRedirect sends every unmatched path to the static site host.
func staticRedirect(host string) http.HandlerFunc {
	host = strings.TrimRight(host, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		if host == "" {
			respondStatusError(w, newAPIError(http.StatusNotFound, CodeNotFound, "Not found", nil))
			return
		}
		http.Redirect(w, r, host+r.URL.Path, http.StatusFound)
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join("/", basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join("/", basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas == nil {
		oas.Components.Schemas = huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	}
	ref := oas.Components.Schemas.Schema(reflect.TypeOf(apiErrorDoc{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: ref},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
}

// Security requirements: operator-only operations need a bearer token,
// mixed ones accept anonymous audience calls too.
var (
	operatorSecurity = []map[string][]string{{"bearerAuth": {}}}
	mixedSecurity    = []map[string][]string{{}, {"bearerAuth": {}}}
)

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Livehub API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Operator actions take Authorization: Bearer &lt;token&gt; (livehub token issue).
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body HealthResponse }, error) {
		return &struct{ Body HealthResponse }{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerState(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/api/state",
		Summary:     "Global state",
		Tags:        []string{"state"},
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body domain.GlobalState }, error) {
		st, err := e.GetState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.GlobalState }{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "merge-state",
		Method:      http.MethodPost,
		Path:        "/api/state",
		Summary:     "Merge fields into the global state",
		Tags:        []string{"state"},
		Security:    operatorSecurity,
	}, func(ctx context.Context, input *struct{ Body StatePatchRequest }) (*struct{ Body domain.GlobalState }, error) {
		if err := requireOperator(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		patch, err := statePatch(ctx, input.Body)
		if err != nil {
			return nil, err
		}
		st, err := e.MergeState(actorContext(ctx, ""), patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.GlobalState }{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-state",
		Method:      http.MethodPost,
		Path:        "/api/state/reset",
		Summary:     "Close voting, disable AI requests and clear the current song",
		Tags:        []string{"state"},
		Security:    operatorSecurity,
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body domain.GlobalState }, error) {
		if err := requireOperator(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		st, err := e.Reset(actorContext(ctx, ""))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.GlobalState }{Body: st}, nil
	})
}

// statePatch reads presence from the raw body so that an explicit null
// clears currentVote or currentAISong while an absent key leaves it alone.
func statePatch(ctx context.Context, in StatePatchRequest) (engine.StatePatch, error) {
	patch := engine.StatePatch{VoteOpen: in.VoteOpen, AIEnabled: in.AIEnabled}
	raw := rawBodyMap(ctx)
	if v, ok := raw["currentVote"]; ok {
		patch.SetCurrentVote = true
		if !isNullRaw(v) {
			var rec domain.VoteRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return patch, newAPIError(http.StatusBadRequest, CodeInvalidInput, "invalid currentVote", nil)
			}
			patch.CurrentVote = &rec
		}
	}
	if v, ok := raw["currentAISong"]; ok {
		patch.SetCurrentAISong = true
		if !isNullRaw(v) {
			var song domain.CurrentSong
			if err := json.Unmarshal(v, &song); err != nil {
				return patch, newAPIError(http.StatusBadRequest, CodeInvalidInput, "invalid currentAISong", nil)
			}
			patch.CurrentAISong = &song
		}
	}
	return patch, nil
}

func registerVote(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "get-vote",
		Method:      http.MethodGet,
		Path:        "/api/vote",
		Summary:     "Current vote record",
		Tags:        []string{"vote"},
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body domain.VoteRecord }, error) {
		rec, err := e.GetVote(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.VoteRecord }{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "vote-action",
		Method:      http.MethodPost,
		Path:        "/api/vote",
		Summary:     "Start or close a vote, or cast a ballot",
		Description: "start_vote and close_vote are operator actions; vote is open to the audience.",
		Tags:        []string{"vote"},
		Security:    mixedSecurity,
	}, func(ctx context.Context, input *struct{ Body VoteActionRequest }) (*struct{ Body VoteActionResponse }, error) {
		in := input.Body
		out := &struct{ Body VoteActionResponse }{Body: VoteActionResponse{Success: true}}
		switch in.Action {
		case ActionStartVote:
			if err := requireOperator(ctx, cfg.Auth); err != nil {
				return nil, err
			}
			rec, err := e.StartVote(actorContext(ctx, ""), engine.StartVoteOptions{Songs: in.Songs, DurationSeconds: in.DurationSeconds})
			if err != nil {
				return nil, handleError(err)
			}
			out.Body.Vote = &rec
		case ActionCloseVote:
			if err := requireOperator(ctx, cfg.Auth); err != nil {
				return nil, err
			}
			st, err := e.CloseVote(actorContext(ctx, ""))
			if err != nil {
				return nil, handleError(err)
			}
			out.Body.State = &st
		case ActionVote:
			if in.SongIndex == nil {
				return nil, newAPIError(http.StatusBadRequest, CodeInvalidInput, "songIndex is required", nil)
			}
			tally, err := e.CastVote(actorContext(ctx, in.ClientID), in.ClientID, *in.SongIndex)
			if err != nil {
				return nil, handleError(err)
			}
			out.Body.Results = &tally
		default:
			return nil, methodNotAllowed()
		}
		return out, nil
	})
}

func registerAI(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "get-ai-queue",
		Method:      http.MethodGet,
		Path:        "/api/ai",
		Summary:     "Song request queue",
		Tags:        []string{"ai"},
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body domain.AIQueue }, error) {
		q, err := e.GetQueue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.AIQueue }{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-current-song",
		Method:      http.MethodGet,
		Path:        "/api/ai/current",
		Summary:     "Song currently shown to the audience",
		Tags:        []string{"ai"},
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body CurrentSongResponse }, error) {
		cur, err := e.CurrentSong(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body CurrentSongResponse }{Body: CurrentSongResponse{CurrentSong: cur}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ai-action",
		Method:      http.MethodPost,
		Path:        "/api/ai",
		Summary:     "Submit, moderate, generate and publish song requests",
		Description: "submit_request is open to the audience; every other action is an operator action.",
		Tags:        []string{"ai"},
		Security:    mixedSecurity,
	}, func(ctx context.Context, input *struct{ Body AIActionRequest }) (*struct{ Body AIActionResponse }, error) {
		in := input.Body
		out := &struct{ Body AIActionResponse }{Body: AIActionResponse{Success: true}}
		if in.Action == ActionSubmitRequest {
			personality, err := personalityList(in.Personality)
			if err != nil {
				return nil, err
			}
			req, err := e.SubmitRequest(actorContext(ctx, in.UserName), engine.SubmitOptions{
				DedicatedTo: in.DedicatedTo,
				Occasion:    in.Occasion,
				Personality: personality,
				Story:       in.Story,
				Email:       in.Email,
				UserName:    in.UserName,
			})
			if err != nil {
				return nil, handleError(err)
			}
			out.Body.Request = &req
			return out, nil
		}
		switch in.Action {
		case ActionApproveRequest, ActionRejectRequest, ActionGenerateSong,
			ActionSetCurrentSong, ActionMarkPlayed, ActionListGeneratedSongs:
		default:
			return nil, methodNotAllowed()
		}
		if err := requireOperator(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		ctx = actorContext(ctx, "")
		var err error
		switch in.Action {
		case ActionApproveRequest:
			var req domain.Request
			req, err = e.ApproveRequest(ctx, in.RequestID)
			out.Body.Request = &req
		case ActionRejectRequest:
			var req domain.Request
			req, err = e.RejectRequest(ctx, in.RequestID)
			out.Body.Request = &req
		case ActionGenerateSong:
			var song domain.GeneratedSong
			song, err = e.GenerateSong(ctx, in.RequestID)
			out.Body.Song = &song
		case ActionSetCurrentSong:
			var cur domain.CurrentSong
			cur, err = e.SetCurrentSong(ctx, in.SongID)
			out.Body.CurrentSong = &cur
		case ActionMarkPlayed:
			var song domain.GeneratedSong
			song, err = e.MarkPlayed(ctx, in.SongID)
			out.Body.Song = &song
		case ActionListGeneratedSongs:
			var songs []domain.GeneratedSong
			songs, err = e.ListSongs(ctx)
			out.Body.Songs = &songs
		}
		if err != nil {
			return nil, handleError(err)
		}
		return out, nil
	})
}

// personalityList accepts either a JSON array of traits or a
// comma-separated string.
func personalityList(v any) ([]string, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case string:
		return engine.SplitPersonality(p), nil
	case []any:
		out := make([]string, 0, len(p))
		for _, item := range p {
			s, ok := item.(string)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, CodeInvalidInput, "personality must contain strings", nil)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, newAPIError(http.StatusBadRequest, CodeInvalidInput, "personality must be a list or a string", nil)
	}
}

func captureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf []byte
		if r.Body != nil {
			buf, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(buf))
		}
		ctx := context.WithValue(r.Context(), requestKey{}, r)
		ctx = context.WithValue(ctx, bodyBytesKey{}, buf)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}
