package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"surveybot/internal/domain"
	"surveybot/internal/reminder"
	"surveybot/internal/survey"
	logx "surveybot/pkg/logx"
)

// API is the core surface exposed over HTTP.
type API interface {
	ListCampaigns(ctx context.Context, actor domain.UserID, states ...domain.CampaignState) ([]*domain.Campaign, error)
	GetCampaign(ctx context.Context, actor domain.UserID, id domain.CampaignID) (*domain.Campaign, error)
	Unanswered(ctx context.Context, actor domain.UserID, id domain.CampaignID) (domain.UserSet, error)
	CompletionRate(ctx context.Context, actor domain.UserID, id domain.CampaignID) (survey.Completion, error)
	RemindNow(ctx context.Context, actor domain.UserID, id domain.CampaignID) (reminder.PassReport, error)
}

type campaignView struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	State        string    `json:"state"`
	ListID       int64     `json:"list_id"`
	Prompt       string    `json:"prompt"`
	Choices      []string  `json:"choices,omitempty"`
	AudienceSize int       `json:"audience_size"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	StoppedAt    time.Time `json:"stopped_at,omitzero"`
	CompletedAt  time.Time `json:"completed_at,omitzero"`
}

func viewCampaign(c *domain.Campaign) campaignView {
	return campaignView{
		ID:           c.ID,
		Name:         c.Name,
		State:        string(c.State),
		ListID:       c.ListID,
		Prompt:       c.Question.Prompt,
		Choices:      c.Question.Choices,
		AudienceSize: c.Audience.Len(),
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		StartedAt:    c.StartedAt,
		StoppedAt:    c.StoppedAt,
		CompletedAt:  c.CompletedAt,
	}
}

type handlers struct {
	api   API
	actor domain.UserID
	log   logx.Logger
}

// Handler builds the API router for cfg.
func Handler(cfg Config, api API, log logx.Logger) http.Handler {
	h := &handlers{api: api, actor: cfg.ActorID, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		r.Route("/v1/campaigns", func(r chi.Router) {
			r.Get("/", h.listCampaigns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCampaign)
				r.Get("/unanswered", h.unanswered)
				r.Get("/completion", h.completion)
				r.Post("/remind", h.remind)
			})
		})
		if cfg.Profiler {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (h *handlers) listCampaigns(w http.ResponseWriter, r *http.Request) {
	var states []domain.CampaignState
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, ok := domain.ParseCampaignState(part)
			if !ok {
				writeError(w, domain.ErrInvalidArgument, "unknown state "+strconv.Quote(part))
				return
			}
			states = append(states, st)
		}
	}
	cs, err := h.api.ListCampaigns(r.Context(), h.actor, states...)
	if err != nil {
		writeError(w, err, "")
		return
	}
	out := make([]campaignView, 0, len(cs))
	for _, c := range cs {
		out = append(out, viewCampaign(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

func (h *handlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.api.GetCampaign(r.Context(), h.actor, id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, viewCampaign(c))
}

func (h *handlers) unanswered(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	users, err := h.api.Unanswered(r.Context(), h.actor, id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "users": users.Sorted()})
}

func (h *handlers) completion(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.api.CompletionRate(r.Context(), h.actor, id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign_id": id,
		"state":       c.State,
		"audience":    c.Audience,
		"answered":    c.Answered,
		"rate":        c.Rate(),
	})
}

func (h *handlers) remind(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	rep, err := h.api.RemindNow(r.Context(), h.actor, id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"pass_id":   rep.ID.String(),
		"due":       rep.Due,
		"sent":      rep.Sent,
		"failed":    rep.Failed,
		"lost_race": rep.LostRace,
		"capped":    rep.Capped,
	})
}

func campaignID(w http.ResponseWriter, r *http.Request) (domain.CampaignID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, domain.ErrInvalidArgument, "campaign id must be a positive integer")
		return 0, false
	}
	return id, true
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(ah[len(p):])), []byte(tok)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func (h *handlers) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("req_id", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBusy):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, msg string) {
	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, statusFor(err), map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
