package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"olympus/internal/audit"
	"olympus/internal/eventbus"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
)

// DeadLetterLister is satisfied by *eventbus.Bus.
type DeadLetterLister interface {
	DeadLetters(ctx context.Context, filter eventbus.DeadLetterFilter) ([]eventbus.DeadLetter, error)
}

// AuditLister is satisfied by *audit.Recorder.
type AuditLister interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

type deadLetterResponse struct {
	Event      eventbus.Envelope `json:"event"`
	Aggregate  string            `json:"aggregate_key,omitempty"`
	Subscriber string            `json:"subscriber,omitempty"`
	Reason     string            `json:"reason"`
	Attempts   int               `json:"attempts"`
	FailedAt   time.Time         `json:"failed_at"`
}

type deadLetterList struct {
	DeadLetters []deadLetterResponse `json:"dead_letters"`
}

type auditList struct {
	Entries []audit.Entry `json:"entries"`
}

// EventsHandler serves the operator views of the bus. Either source may be
// nil, in which case its route is not mounted.
type EventsHandler struct {
	deadLetters DeadLetterLister
	trail       AuditLister
}

func NewEventsHandler(deadLetters DeadLetterLister, trail AuditLister) *EventsHandler {
	return &EventsHandler{deadLetters: deadLetters, trail: trail}
}

// Register mounts the operator event routes. Callers guard r.
func (h *EventsHandler) Register(r chi.Router) {
	if h.deadLetters != nil {
		r.Get("/admin/events/dead-letters", h.handleDeadLetters)
	}
	if h.trail != nil {
		r.Get("/admin/audit", h.handleAudit)
	}
}

func (h *EventsHandler) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	tenantID, limit, err := tenantAndLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	dls, err := h.deadLetters.DeadLetters(r.Context(), eventbus.DeadLetterFilter{TenantID: tenantID, Limit: limit})
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list dead letters"))
		return
	}
	out := deadLetterList{DeadLetters: make([]deadLetterResponse, 0, len(dls))}
	for _, dl := range dls {
		out.DeadLetters = append(out.DeadLetters, deadLetterResponse{
			Event:      dl.Event.Envelope,
			Aggregate:  dl.Event.AggregateKey,
			Subscriber: dl.Subscriber,
			Reason:     dl.Reason,
			Attempts:   dl.Attempts,
			FailedAt:   dl.FailedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *EventsHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, limit, err := tenantAndLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	category, ok := audit.ParseCategory(r.URL.Query().Get("category"))
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown audit category"))
		return
	}
	entries, err := h.trail.List(r.Context(), audit.Filter{TenantID: tenantID, Category: category, Limit: limit})
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries"))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, auditList{Entries: entries})
}

func tenantAndLimit(r *http.Request) (id.TenantID, int, error) {
	var tenantID id.TenantID
	q := r.URL.Query()
	if raw := q.Get("tenant_id"); raw != "" {
		parsed, err := id.ParseTenantID(raw)
		if err != nil {
			return id.TenantID{}, 0, dErrors.New(dErrors.CodeBadRequest, "invalid tenant_id")
		}
		tenantID = parsed
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return id.TenantID{}, 0, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	return tenantID, limit, nil
}
