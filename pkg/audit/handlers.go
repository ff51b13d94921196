package audit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/restaurant-iam/pkg/httputil"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ErrScopeDenied is returned by a ScopeFunc when the caller may not read audit logs
var ErrScopeDenied = errors.New("audit access denied")

// ScopeFunc returns the restaurant the caller's audit queries are pinned to.
// A nil restaurant means the caller may read every restaurant's records.
type ScopeFunc func(r *http.Request) (*uuid.UUID, error)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store Store
	scope ScopeFunc
}

// NewHandlers creates new audit handlers. A nil scope leaves queries unpinned.
func NewHandlers(store Store, scope ScopeFunc) *Handlers {
	if scope == nil {
		scope = func(*http.Request) (*uuid.UUID, error) { return nil, nil }
	}
	return &Handlers{
		store: store,
		scope: scope,
	}
}

// RegisterRoutes registers audit log routes behind guard
func (h *Handlers) RegisterRoutes(router *mux.Router, guard mux.MiddlewareFunc) {
	sub := router.PathPrefix("/iam/audit").Subrouter()
	if guard != nil {
		sub.Use(guard)
	}
	sub.HandleFunc("", h.listEvents).Methods("GET")
	sub.HandleFunc("/export", h.exportEvents).Methods("GET")
}

// listEvents handles GET /iam/audit
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to search audit logs")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// exportEvents handles GET /iam/audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = ExportFormatJSON
	case ExportFormatJSON, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, "format must be json or ndjson")
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to export audit logs")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=audit-logs."+string(format))
	w.Write(data)
}

// filter parses query parameters and pins the result to the caller's scope
func (h *Handlers) filter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return SearchFilter{}, false
	}

	pinned, err := h.scope(r)
	if err != nil {
		if errors.Is(err, ErrScopeDenied) {
			httputil.WriteForbidden(w, err.Error())
		} else {
			httputil.WriteBadRequest(w, err.Error())
		}
		return SearchFilter{}, false
	}
	if pinned != nil {
		filter.RestaurantID = pinned
	}
	return filter, true
}

// ParseFilter reads a SearchFilter from query parameters
func ParseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{Limit: defaultLimit}

	parseTime := func(name string) (*time.Time, error) {
		raw := query.Get(name)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("invalid " + name + ": must be RFC 3339")
		}
		return &t, nil
	}
	parseID := func(name string) (*uuid.UUID, error) {
		id, err := httputil.ParseQueryUUID(r, name)
		if err != nil || id == uuid.Nil {
			return nil, err
		}
		return &id, nil
	}

	var err error
	if filter.StartTime, err = parseTime("startTime"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime("endTime"); err != nil {
		return filter, err
	}
	if filter.ActorUserID, err = parseID("actorUserId"); err != nil {
		return filter, err
	}
	if filter.RestaurantID, err = parseID("restaurantId"); err != nil {
		return filter, err
	}

	for _, action := range strings.Split(query.Get("actions"), ",") {
		if action = strings.TrimSpace(action); action != "" {
			filter.EventTypes = append(filter.EventTypes, EventType(action))
		}
	}

	filter.ResourceType = ResourceType(query.Get("resourceType"))
	filter.ResourceID = query.Get("resourceId")

	limit, err := httputil.ParseQueryInt(r, "limit", defaultLimit)
	if err != nil || limit < 1 {
		return filter, errors.New("invalid limit")
	}
	filter.Limit = min(limit, maxLimit)

	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil || filter.Offset < 0 {
		return filter, errors.New("invalid offset")
	}

	return filter, nil
}
