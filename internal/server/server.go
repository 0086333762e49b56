package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"osline/internal/domain"
	"osline/internal/logging"
	"osline/internal/metrics"
	"osline/internal/monitor"
	"osline/internal/repo"
	"osline/internal/workflow"
)

// Workflow is the set of stage-changing operations exposed over HTTP.
type Workflow interface {
	Advance(ctx context.Context, orderID, actorID string) (domain.Stage, error)
	Reject(ctx context.Context, orderID, reason, actorID string) (domain.Stage, error)
	MarkPosted(ctx context.Context, orderID string) error
}

// Reader serves the read-only endpoints.
type Reader interface {
	GetOrder(ctx context.Context, id string) (domain.ServiceOrder, error)
	ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (monitor.Report, error)
}

// Config for the HTTP API handler.
type Config struct {
	Workflow Workflow
	Reader   Reader
	Sweeper  Sweeper
	Metrics  *metrics.Registry
	Log      logging.Logger
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"NO_TRANSITION_AVAILABLE"`
	Message string         `json:"message" example:"no transition available from POSTADO"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the osline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Workflow == nil || cfg.Reader == nil || cfg.Sweeper == nil {
		return nil, fmt.Errorf("server: workflow, reader and sweeper are required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema errors are malformed requests, not workflow validation
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	log := logging.OrNop(cfg.Log)
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, log))
	hcfg := huma.DefaultConfig("osline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{workflow: cfg.Workflow, reader: cfg.Reader, sweeper: cfg.Sweeper, metrics: cfg.Metrics, log: log}
	registerDocs(router, basePath)
	registerHealth(group)
	registerMetrics(group, h)
	registerOrders(group, h)
	registerTransitions(group, h)
	registerWebhooks(group, h)
	registerSLA(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	workflow Workflow
	reader   Reader
	sweeper  Sweeper
	metrics  *metrics.Registry
	log      logging.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps workflow errors onto the envelope. Store causes are logged,
// never returned to the client.
func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := workflow.Message(err)
	switch code := workflow.Code(err); code {
	case workflow.CodeNotFound:
		return newAPIError(http.StatusNotFound, code, msg, nil)
	case workflow.CodeValidationFailed:
		return newAPIError(http.StatusUnprocessableEntity, code, msg, nil)
	case workflow.CodeNoTransition, workflow.CodeStageConflict:
		return newAPIError(http.StatusConflict, code, msg, nil)
	case workflow.CodePersistence:
		h.log.Error("request failed: %v", err)
		return newAPIError(http.StatusServiceUnavailable, code, msg, map[string]any{"retryable": true})
	default:
		h.log.Error("unexpected error: %v", err)
		return newAPIError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return workflow.CodeNotFound
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return workflow.CodeValidationFailed
	case http.StatusInternalServerError:
		return "INTERNAL_ERROR"
	default:
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	ref := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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
	oas.Components.SecuritySchemes["webhookSecret"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: WebhookSecretHeader,
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	webhook := []map[string][]string{{"webhookSecret": {}}}
	oas.Security = bearer
	healthPath := path.Join(basePath, "health")
	webhookPrefix := path.Join(basePath, "webhooks") + "/"
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			switch {
			case route == healthPath:
				op.Security = []map[string][]string{}
			case strings.HasPrefix(route, webhookPrefix):
				op.Security = webhook
			default:
				op.Security = bearer
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>osline API Docs</title>
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

func registerMetrics(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Process counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MetricsResponse `json:"body"`
	}, error) {
		counters := h.metrics.Snapshot()
		if counters == nil {
			counters = []metrics.Counter{}
		}
		return &struct {
			Body MetricsResponse `json:"body"`
		}{Body: MetricsResponse{Counters: counters}}, nil
	})
}

func registerOrders(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get service order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := h.getOrder(ctx, input.OrderID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-order-events",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}/events",
		Summary:     "Audit history of an order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
		Action  string `query:"action" enum:"CREATE,STATUS_CHANGE,REJECT,SLA_OVERDUE,SLA_AT_RISK,POST,CHECKLIST,ASSET,APPROVAL"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  int64  `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := h.getOrder(ctx, input.OrderID); err != nil {
			return nil, h.handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := h.reader.ListEvents(ctx, repo.EventFilters{
			OrderID: input.OrderID,
			Action:  domain.Action(input.Action),
			Cursor:  input.Cursor,
			Limit:   limit + 1,
		})
		if err != nil {
			return nil, h.handleError(workflow.Persistence("list events", err))
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTransitions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "advance-order",
		Method:      http.MethodPost,
		Path:        "/orders/{order_id}/advance",
		Summary:     "Advance an order to the next stage",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stage, err := h.workflow.Advance(ctx, input.OrderID, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{OrderID: input.OrderID, Stage: stage}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-order",
		Method:      http.MethodPost,
		Path:        "/orders/{order_id}/reject",
		Summary:     "Send an order back to the previous stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		OrderID string        `path:"order_id"`
		Body    RejectRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stage, err := h.workflow.Reject(ctx, input.OrderID, input.Body.Reason, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{OrderID: input.OrderID, Stage: stage}}, nil
	})
}

func registerWebhooks(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "order-posted-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/orders/{order_id}/posted",
		Summary:     "Publishing platform confirms an order was posted",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if err := h.workflow.MarkPosted(ctx, input.OrderID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{OrderID: input.OrderID, Stage: domain.StagePostado}}, nil
	})
}

func registerSLA(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "sla-sweep",
		Method:      http.MethodPost,
		Path:        "/sla/sweep",
		Summary:     "Run one SLA sweep now",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body monitor.Report `json:"body"`
	}, error) {
		report, err := h.sweeper.Sweep(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body monitor.Report `json:"body"`
		}{Body: report}, nil
	})
}

func (h handlers) getOrder(ctx context.Context, id string) (domain.ServiceOrder, error) {
	o, err := h.reader.GetOrder(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return o, workflow.Fail(workflow.ErrNotFound, fmt.Sprintf("service order not found: %s", id), nil)
	}
	if err != nil {
		return o, workflow.Persistence("load order", err)
	}
	return o, nil
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
