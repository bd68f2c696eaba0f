package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/grpcgate/grpcgate/internal/auth"
	"github.com/grpcgate/grpcgate/internal/circuitbreaker"
	gwerrors "github.com/grpcgate/grpcgate/internal/errors"
	"github.com/grpcgate/grpcgate/internal/router"
	"github.com/grpcgate/grpcgate/internal/trace"
)

// Admin serves the operational endpoints. Every admin request requires a
// token the auth service accepts.
type Admin struct {
	control   *Control
	routes    *router.Cell
	breakers  *circuitbreaker.Manager
	validator auth.TokenValidator
}

// refreshResponse is the wire shape of POST /admin/refresh-routes.
type refreshResponse struct {
	Success          bool     `json:"success"`
	RoutesDiscovered int      `json:"routes_discovered"`
	ServicesQueried  int      `json:"services_queried"`
	Errors           []string `json:"errors"`
}

// NewAdmin creates the admin surface.
func NewAdmin(control *Control, routes *router.Cell, breakers *circuitbreaker.Manager, validator auth.TokenValidator) *Admin {
	return &Admin{control: control, routes: routes, breakers: breakers, validator: validator}
}

// Register mounts the admin handlers on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/refresh-routes", a.handleRefreshRoutes)
	mux.HandleFunc("/admin/routes", a.handleRoutes)
	mux.HandleFunc("/admin/circuit-breakers", a.handleBreakers)
}

// authorize admits only requests carrying a token the auth service
// validates.
func (a *Admin) authorize(ctx context.Context, r *http.Request) *gwerrors.GatewayError {
	token := auth.ExtractToken(r.Header.Get("Authorization"))
	if token == "" {
		return gwerrors.ErrMissingToken
	}
	resp, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return gwerrors.Wrap(gwerrors.ErrAuthUnavailable, err)
	}
	if !resp.Valid {
		return gwerrors.ErrInvalidToken
	}
	return nil
}

func (a *Admin) handleRefreshRoutes(w http.ResponseWriter, r *http.Request) {
	traceID := trace.FromRequest(r).TraceID
	if r.Method != http.MethodPost {
		gwerrors.New(http.StatusMethodNotAllowed, gwerrors.CodeRouteNotFound, "POST required").WriteJSON(w, traceID)
		return
	}
	if ge := a.authorize(r.Context(), r); ge != nil {
		ge.WriteJSON(w, traceID)
		return
	}

	// Partial failures stay visible in the body; the refresh itself ran
	// either way, so the request is a 200.
	res := a.control.RefreshRoutes(r.Context())
	writeJSON(w, http.StatusOK, refreshResponse{
		Success:          len(res.Errors) == 0,
		RoutesDiscovered: res.RoutesDiscovered,
		ServicesQueried:  res.ServicesQueried,
		Errors:           nonNil(res.Errors),
	})
}

func (a *Admin) handleRoutes(w http.ResponseWriter, r *http.Request) {
	traceID := trace.FromRequest(r).TraceID
	if r.Method != http.MethodGet {
		gwerrors.New(http.StatusMethodNotAllowed, gwerrors.CodeRouteNotFound, "GET required").WriteJSON(w, traceID)
		return
	}
	if ge := a.authorize(r.Context(), r); ge != nil {
		ge.WriteJSON(w, traceID)
		return
	}

	type routeInfo struct {
		HTTPMethod string `json:"http_method"`
		Path       string `json:"path"`
		Upstream   string `json:"upstream"`
		GRPCMethod string `json:"grpc_method"`
		Source     string `json:"source"`
	}
	entries := a.routes.Load().Routes()
	out := make([]routeInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, routeInfo{
			HTTPMethod: e.HTTPMethod,
			Path:       e.Path,
			Upstream:   e.Upstream,
			GRPCMethod: e.GRPCMethod,
			Source:     e.Source,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routes": out, "count": len(out)})
}

func (a *Admin) handleBreakers(w http.ResponseWriter, r *http.Request) {
	traceID := trace.FromRequest(r).TraceID
	if r.Method != http.MethodGet {
		gwerrors.New(http.StatusMethodNotAllowed, gwerrors.CodeRouteNotFound, "GET required").WriteJSON(w, traceID)
		return
	}
	if ge := a.authorize(r.Context(), r); ge != nil {
		ge.WriteJSON(w, traceID)
		return
	}
	writeJSON(w, http.StatusOK, a.breakers.Snapshots())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
