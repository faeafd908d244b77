package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"surveybot/internal/domain"
	"surveybot/internal/reminder"
	"surveybot/internal/survey"
	logx "surveybot/pkg/logx"
)

type fakeAPI struct {
	actors []domain.UserID
}

func (f *fakeAPI) check(actor domain.UserID) error {
	f.actors = append(f.actors, actor)
	if actor != 1 {
		return domain.ErrPermissionDenied
	}
	return nil
}

func (f *fakeAPI) ListCampaigns(_ context.Context, actor domain.UserID, states ...domain.CampaignState) ([]*domain.Campaign, error) {
	if err := f.check(actor); err != nil {
		return nil, err
	}
	c := &domain.Campaign{ID: 3, Name: "weekly", State: domain.StateActive, Audience: domain.NewUserSet(4, 5)}
	if len(states) == 1 && states[0] != domain.StateActive {
		return nil, nil
	}
	return []*domain.Campaign{c}, nil
}

func (f *fakeAPI) GetCampaign(_ context.Context, actor domain.UserID, id domain.CampaignID) (*domain.Campaign, error) {
	if err := f.check(actor); err != nil {
		return nil, err
	}
	if id != 3 {
		return nil, domain.ErrNotFound
	}
	return &domain.Campaign{ID: 3, Name: "weekly", State: domain.StateActive}, nil
}

func (f *fakeAPI) Unanswered(_ context.Context, actor domain.UserID, _ domain.CampaignID) (domain.UserSet, error) {
	return domain.NewUserSet(5, 4), f.check(actor)
}

func (f *fakeAPI) CompletionRate(_ context.Context, actor domain.UserID, id domain.CampaignID) (survey.Completion, error) {
	return survey.Completion{CampaignID: id, State: domain.StateActive, Audience: 4, Answered: 1}, f.check(actor)
}

func (f *fakeAPI) RemindNow(_ context.Context, actor domain.UserID, id domain.CampaignID) (reminder.PassReport, error) {
	if err := f.check(actor); err != nil {
		return reminder.PassReport{}, err
	}
	if id == 9 {
		return reminder.PassReport{}, domain.ErrInvalidTransition
	}
	return reminder.PassReport{ID: uuid.New(), Due: 2, Sent: 2}, nil
}

func TestHandler(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	srv := httptest.NewServer(Handler(Config{Token: "s3cret", ActorID: 1, Profiler: true}, api, logx.Nop()))
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		body   string
	}{
		{name: "healthz is open", method: http.MethodGet, path: "/healthz", status: http.StatusOK, body: "ok"},
		{name: "missing token", method: http.MethodGet, path: "/v1/campaigns", status: http.StatusUnauthorized},
		{name: "wrong token", method: http.MethodGet, path: "/v1/campaigns", token: "nope", status: http.StatusUnauthorized},
		{name: "list", method: http.MethodGet, path: "/v1/campaigns?state=active", token: "s3cret", status: http.StatusOK, body: `"audience_size":2`},
		{name: "bad state", method: http.MethodGet, path: "/v1/campaigns?state=bogus", token: "s3cret", status: http.StatusBadRequest},
		{name: "show", method: http.MethodGet, path: "/v1/campaigns/3", token: "s3cret", status: http.StatusOK, body: `"name":"weekly"`},
		{name: "show missing", method: http.MethodGet, path: "/v1/campaigns/4", token: "s3cret", status: http.StatusNotFound},
		{name: "bad id", method: http.MethodGet, path: "/v1/campaigns/x", token: "s3cret", status: http.StatusBadRequest},
		{name: "unanswered", method: http.MethodGet, path: "/v1/campaigns/3/unanswered", token: "s3cret", status: http.StatusOK, body: `"users":[4,5]`},
		{name: "completion", method: http.MethodGet, path: "/v1/campaigns/3/completion", token: "s3cret", status: http.StatusOK, body: `"rate":0.25`},
		{name: "remind", method: http.MethodPost, path: "/v1/campaigns/3/remind", token: "s3cret", status: http.StatusAccepted, body: `"sent":2`},
		{name: "remind inactive", method: http.MethodPost, path: "/v1/campaigns/9/remind", token: "s3cret", status: http.StatusConflict},
		{name: "profiler mounted", method: http.MethodGet, path: "/debug/pprof/", token: "s3cret", status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status=%d want %d body=%s", resp.StatusCode, tc.status, b)
			}
			if tc.body != "" && !strings.Contains(string(b), tc.body) {
				t.Fatalf("body %q missing %q", b, tc.body)
			}
		})
	}
}

func TestHandlerActsAsConfiguredActor(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	h := Handler(Config{ActorID: 2}, api, logx.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns/3", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
	if len(api.actors) != 1 || api.actors[0] != 2 {
		t.Fatalf("actors=%v", api.actors)
	}
}
