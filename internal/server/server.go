package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"alixia/internal/engine"
	"alixia/internal/house"
	"alixia/internal/repo"
	"alixia/internal/room"
	"alixia/internal/rooms/frontdesk"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"turn_stalled"`
	Message string         `json:"message" example:"house: turn stalled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every route returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the assistant API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Alixia API", cfg.Engine.Config.Service.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, log: cfg.Log.Named("server")}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerTurns(group)
	h.registerClients(group)
	h.registerCapabilities(group)
	h.registerRooms(group)
	h.registerHistory(group)
	h.registerEvents(group)
	registerOpenAPI(router, api, basePath)
	return router, nil
}

type handlers struct {
	e   *engine.Engine
	log *zap.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, house.ErrStalled):
		return newAPIError(http.StatusGatewayTimeout, "turn_stalled", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "turn_timeout", "no answer before the turn timeout", nil)
	case errors.Is(err, frontdesk.ErrNoOrchestrator):
		return newAPIError(http.StatusBadGateway, "no_orchestrator", err.Error(), nil)
	case errors.Is(err, house.ErrClosed), errors.Is(err, house.ErrUnbound), errors.Is(err, room.ErrNotRunning):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Alixia API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (h handlers) registerTurns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/turns",
		Summary:     "Run one client turn and wait for the answer",
		Errors:      []int{http.StatusBadRequest, http.StatusGatewayTimeout, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body TurnRequest
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeTurns); err != nil {
			return nil, handleError(err)
		}
		resp, err := h.e.Ask(ctx, input.Body.dialog())
		if err != nil {
			h.log.Warn("turn failed", zap.String("client", input.Body.ClientID), zap.Error(err))
			return nil, handleError(err)
		}
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(resp)}, nil
	})
}

func (h handlers) registerClients(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "client-messages",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/messages",
		Summary:     "Collect answers pushed to a client",
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body MessagesResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeTurns); err != nil {
			return nil, handleError(err)
		}
		out := MessagesResponse{ClientID: input.ClientID, Items: []TurnResponse{}}
		for _, m := range h.e.House.Messages(input.ClientID) {
			out.Items = append(out.Items, turnResponse(m))
		}
		return &struct {
			Body MessagesResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "client-session",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/session",
		Summary:     "What the house remembers about a client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body house.Session `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, handleError(err)
		}
		s, ok := h.e.House.Session(input.ClientID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no session for client", map[string]any{"client_id": input.ClientID})
		}
		return &struct {
			Body house.Session `json:"body"`
		}{Body: s}, nil
	})
}

func (h handlers) registerCapabilities(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-capabilities",
		Method:      http.MethodGet,
		Path:        "/capabilities",
		Summary:     "Published routing table",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CapabilitiesResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, handleError(err)
		}
		table := h.e.Registry.Table()
		if table == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "routing table not published", nil)
		}
		catalog := h.e.Config.Catalog()
		out := CapabilitiesResponse{Items: []CapabilityResponse{}}
		for _, n := range table.Names() {
			out.Items = append(out.Items, CapabilityResponse{
				Name:        string(n),
				Description: catalog[n],
				Rooms:       roomNames(table.RoomsFor(n)),
			})
		}
		unknown, orphans := table.Validate(catalog)
		out.Unknown = capabilityNames(unknown)
		out.Orphans = capabilityNames(orphans)
		return &struct {
			Body CapabilitiesResponse `json:"body"`
		}{Body: out}, nil
	})
}

func (h handlers) registerRooms(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rooms",
		Method:      http.MethodGet,
		Path:        "/rooms",
		Summary:     "Room state and traffic",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RoomsResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, handleError(err)
		}
		out := RoomsResponse{Items: []RoomResponse{}, Missing: roomNames(h.e.Registry.Missing())}
		for _, s := range h.e.Stats() {
			out.Items = append(out.Items, roomResponse(s))
		}
		return &struct {
			Body RoomsResponse `json:"body"`
		}{Body: out}, nil
	})
}

func (h handlers) registerHistory(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Recent completed turns",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
		Limit    int    `query:"limit" default:"20"`
	}) (*struct {
		Body struct {
			Items []HistoryResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.Repo.ListHistory(ctx, input.ClientID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []HistoryResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = []HistoryResponse{}
		for _, it := range items {
			out.Body.Items = append(out.Body.Items, historyResponse(it))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "history-snapshot",
		Method:      http.MethodGet,
		Path:        "/history/{ticket_id}/snapshot",
		Summary:     "Decoded journal of a completed turn",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, handleError(err)
		}
		if h.e.Historian == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "historian room not enabled", nil)
		}
		snap, err := h.e.Historian.Snapshot(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: snap}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log, newest first or after a cursor",
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		TicketID string `query:"ticket_id"`
		Limit    int    `query:"limit" default:"50"`
		After    int64  `query:"after"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		resp := paginatedEvents{Items: []EventResponse{}}
		if input.After > 0 {
			items, err := h.e.Repo.EventsAfter(ctx, limit, input.After)
			if err != nil {
				return nil, handleError(err)
			}
			for _, evt := range items {
				resp.Items = append(resp.Items, eventResponse(evt))
			}
			if len(items) == limit {
				resp.NextCursor = fmt.Sprintf("%d", items[len(items)-1].ID)
			}
		} else {
			items, err := h.e.Repo.LatestEvents(ctx, limit, input.Type, input.TicketID)
			if err != nil {
				return nil, handleError(err)
			}
			for _, evt := range items {
				resp.Items = append(resp.Items, eventResponse(evt))
			}
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

