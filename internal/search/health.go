package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/metrics"
)

type scopeHealth struct {
	consecutiveFailures int
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// ScopeDiagnostics is the health summary of one concrete scope.
type ScopeDiagnostics struct {
	Scope               string     `json:"scope"`
	Title               string     `json:"title"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}

// Health tracks per-scope query outcomes. It is shared by every
// orchestrator of a process and safe for concurrent use.
type Health struct {
	mu    sync.Mutex
	state map[domain.SearchScope]*scopeHealth
}

func NewHealth() *Health {
	return &Health{state: make(map[domain.SearchScope]*scopeHealth)}
}

func (h *Health) Record(scope domain.SearchScope, query string, err error, latency time.Duration, now time.Time) {
	if h == nil || !scope.Valid() {
		return
	}
	name := strings.ToLower(scope.Title())

	// Cancelled queries say nothing about the scope.
	if catalog.IsCancelled(err) {
		metrics.ScopeRequestsTotal.WithLabelValues(name, "cancelled").Inc()
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state[scope]
	if state == nil {
		state = &scopeHealth{}
		h.state[scope] = state
	}
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.ScopeRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.ScopeRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.ScopeAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.ScopeRequestsTotal.WithLabelValues(name, status).Inc()
	metrics.ScopeAvailable.WithLabelValues(name).Set(0)
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// Diagnostics lists every concrete scope in display order.
func (h *Health) Diagnostics() []ScopeDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]ScopeDiagnostics, 0, 4)
	for _, scope := range domain.ScopeAll.Expand() {
		item := ScopeDiagnostics{
			Scope: strings.ToLower(scope.Title()),
			Title: scope.Title(),
		}
		if state := h.state[scope]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}
	return items
}
