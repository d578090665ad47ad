package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
	"github.com/secmon-lab/concierge/pkg/utils/safe"
)

const maxBodyBytes = 64 << 10

type messageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type denialResponse struct {
	Reason            string  `json:"reason"`
	Message           string  `json:"message,omitempty"`
	RetryAfterSeconds float64 `json:"retry_after_seconds,omitempty"`
}

type messageResponse struct {
	RequestID  string          `json:"request_id"`
	Success    bool            `json:"success"`
	Text       string          `json:"text,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Intent     string          `json:"intent,omitempty"`
	Tier       string          `json:"tier,omitempty"`
	Confidence float64         `json:"confidence"`
	Degraded   bool            `json:"degraded,omitempty"`
	Denial     *denialResponse `json:"denial,omitempty"`
	Discarded  bool            `json:"discarded,omitempty"`
	ElapsedMS  int64           `json:"elapsed_ms"`
}

type memoryRequest struct {
	Text       string `json:"text"`
	Channel    string `json:"channel"`
	Supersedes string `json:"supersedes"`
}

type memoryResponse struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Kind       string    `json:"kind"`
	Channel    string    `json:"channel,omitempty"`
	Supersedes string    `json:"supersedes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type erasureResponse struct {
	Memories     int `json:"memories"`
	HistoryTurns int `json:"history_turns"`
	UsageRecords int `json:"usage_records"`
}

type budgetResponse struct {
	Period      string    `json:"period"`
	Provider    string    `json:"provider,omitempty"`
	SpentUSD    float64   `json:"spent_usd"`
	CapUSD      float64   `json:"cap_usd"`
	PercentUsed float64   `json:"percent_used"`
	WithinLimit bool      `json:"within_limit"`
	WindowStart time.Time `json:"window_start"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	safe.WriteJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return goerr.Wrap(err, "invalid request body")
	}
	return nil
}

// statusOf maps use case errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, usecase.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrMemoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// denialStatus picks the status for a policy denial
func denialStatus(d *model.PolicyDenial) int {
	switch d.Reason {
	case model.DenialRateLimited:
		return http.StatusTooManyRequests
	case model.DenialContentFlagged:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, _ := OwnerFrom(ctx)

	var body messageRequest
	if err := decodeBody(w, r, &body); err != nil {
		errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
		return
	}

	resp, err := s.broker.Handle(ctx, &model.Request{
		Owner:   owner,
		Channel: types.ChannelRef(body.Channel),
		Text:    body.Text,
	})
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}

	out := messageResponse{
		RequestID:  string(resp.RequestID),
		Success:    resp.Success,
		Text:       resp.Text,
		Provider:   resp.Provider.String(),
		Intent:     resp.Decision.Intent.String(),
		Tier:       resp.Decision.PreferredTier.String(),
		Confidence: resp.Decision.Confidence,
		Degraded:   resp.Decision.Degraded,
		Discarded:  resp.Discarded,
		ElapsedMS:  resp.Elapsed.Milliseconds(),
	}

	status := http.StatusOK
	switch {
	case resp.Denial != nil:
		out.Denial = &denialResponse{
			Reason:            string(resp.Denial.Reason),
			Message:           resp.Denial.Message,
			RetryAfterSeconds: resp.Denial.RetryAfter.Seconds(),
		}
		if resp.Denial.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(resp.Denial.RetryAfter.Seconds()))))
		}
		status = denialStatus(resp.Denial)
	case !resp.Success && !resp.Discarded:
		status = http.StatusServiceUnavailable
	}

	safe.WriteJSON(ctx, w, status, out)
}

func toMemoryResponse(m *model.Memory) memoryResponse {
	return memoryResponse{
		ID:         m.ID.String(),
		Text:       m.Text,
		Kind:       m.Kind.String(),
		Channel:    m.ChannelRef.String(),
		Supersedes: m.Supersedes.String(),
		CreatedAt:  m.CreatedAt,
	}
}

func (s *Server) listMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, _ := OwnerFrom(ctx)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errutil.HandleHTTP(ctx, w, goerr.New("limit must be a non-negative integer", goerr.V("limit", v)), http.StatusBadRequest)
			return
		}
		limit = n
	}

	memories, err := s.memories.List(ctx, owner, limit)
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}

	out := make([]memoryResponse, len(memories))
	for i, m := range memories {
		out[i] = toMemoryResponse(m)
	}
	safe.WriteJSON(ctx, w, http.StatusOK, map[string]any{"memories": out})
}

func (s *Server) createMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, _ := OwnerFrom(ctx)

	var body memoryRequest
	if err := decodeBody(w, r, &body); err != nil {
		errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
		return
	}

	m, err := s.memories.Remember(ctx, usecase.RememberInput{
		Owner:      owner,
		Text:       body.Text,
		Channel:    types.ChannelRef(body.Channel),
		Supersedes: model.MemoryID(body.Supersedes),
	})
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}
	safe.WriteJSON(ctx, w, http.StatusCreated, toMemoryResponse(m))
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, _ := OwnerFrom(ctx)

	id := model.MemoryID(chi.URLParam(r, "id"))
	if err := s.memories.Forget(ctx, owner, id); err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) eraseAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, _ := OwnerFrom(ctx)

	if r.URL.Query().Get("confirm") != "true" {
		errutil.HandleHTTP(ctx, w, goerr.New("erasure requires confirm=true"), http.StatusBadRequest)
		return
	}

	report, err := s.memories.Erase(ctx, owner)
	if err != nil {
		errutil.HandleHTTP(ctx, w, err, statusOf(err))
		return
	}
	safe.WriteJSON(ctx, w, http.StatusOK, erasureResponse{
		Memories:     report.Memories,
		HistoryTurns: report.HistoryTurns,
		UsageRecords: report.UsageRecords,
	})
}

func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	states := s.budget.Status()
	out := make([]budgetResponse, len(states))
	for i, st := range states {
		out[i] = budgetResponse{
			Period:      st.Scope.Period.String(),
			Provider:    st.Scope.ProviderID.String(),
			SpentUSD:    st.SpentUSD,
			CapUSD:      st.CapUSD,
			PercentUsed: st.PercentUsed,
			WithinLimit: st.WithinLimit,
			WindowStart: st.WindowStart,
		}
	}
	safe.WriteJSON(r.Context(), w, http.StatusOK, map[string]any{"budgets": out})
}
