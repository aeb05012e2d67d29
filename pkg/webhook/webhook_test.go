package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/codeGROOVE-dev/auto-assign/pkg/assign"
	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/resolver"
	"github.com/codeGROOVE-dev/auto-assign/pkg/rotation"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"

	"github.com/go-chi/chi/v5"
)

type fakeService struct {
	result *assign.Result
	err    error
	items  []*types.Item
}

func (f *fakeService) Handle(_ context.Context, item *types.Item) (*assign.Result, error) {
	f.items = append(f.items, item)
	if f.result == nil && f.err == nil {
		return &assign.Result{Decision: rotation.Decision{Action: rotation.AssignNext, Selected: []string{"a"}}}, nil
	}
	return f.result, f.err
}

type fakeInvalidator struct{ invalidated []string }

func (f *fakeInvalidator) Invalidate(owner, repo string) {
	f.invalidated = append(f.invalidated, owner+"/"+repo)
}

const pullRequestPayload = `{
  "action": "opened",
  "repository": {"name": "r", "full_name": "o/r", "html_url": "https://github.com/o/r", "owner": {"login": "o"}},
  "pull_request": {
    "number": 7,
    "title": "Add thing",
    "state": "open",
    "draft": false,
    "user": {"login": "author"},
    "labels": [{"name": "backend"}],
    "assignee": {"login": "legacy"},
    "assignees": [{"login": "x"}],
    "requested_reviewers": [{"login": "y"}]
  }
}`

func serve(t *testing.T, h *Handler, event, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPullRequestEvent(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, Options{})

	rec := serve(t, h, "pull_request", pullRequestPayload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(svc.items) != 1 {
		t.Fatalf("expected one invocation, got %d", len(svc.items))
	}

	item := svc.items[0]
	if item.Kind != types.KindPullRequest || item.Owner != "o" || item.Repository != "r" || item.Number != 7 {
		t.Errorf("unexpected item %+v", item)
	}
	if item.RepositoryURL != "https://github.com/o/r" {
		t.Errorf("RepositoryURL = %q", item.RepositoryURL)
	}
	if !slices.Equal(item.Assignees, []string{"x", "legacy"}) {
		t.Errorf("Assignees = %v, want list plus legacy assignee", item.Assignees)
	}
	if !slices.Equal(item.Reviewers, []string{"y"}) || !slices.Equal(item.Labels, []string{"backend"}) {
		t.Errorf("Reviewers/Labels = %v/%v", item.Reviewers, item.Labels)
	}
	if item.ChangedFiles != nil {
		t.Errorf("changed files are listed by the service on demand, got %v", item.ChangedFiles)
	}

	if got := decode(t, rec)["action"]; got != string(rotation.AssignNext) {
		t.Errorf("response action = %v", got)
	}
}

func TestPullRequestEvent_IgnoredAction(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, Options{})

	body := `{"action": "closed", "repository": {"name": "r"}, "pull_request": {"number": 1}}`
	rec := serve(t, h, "pull_request", body, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ignored" {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(svc.items) != 0 {
		t.Error("expected no invocation for a closed pull request")
	}
}

func TestIssuesEvent(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, Options{})

	body := `{
	  "action": "opened",
	  "repository": {"name": "r", "full_name": "o/r", "html_url": "https://github.com/o/r"},
	  "issue": {"number": 3, "labels": [{"name": "bug"}], "assignees": []}
	}`
	rec := serve(t, h, "issues", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	item := svc.items[0]
	if item.Kind != types.KindIssue || item.Owner != "o" || item.Number != 3 {
		t.Errorf("unexpected item %+v", item)
	}
	if item.Assignees != nil || item.ChangedFiles != nil {
		t.Errorf("expected no assignees or files, got %v / %v", item.Assignees, item.ChangedFiles)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 404", config.ErrConfigLoad), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: no team", resolver.ErrTeamResolution), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: 422", assign.ErrAssignment), http.StatusBadGateway},
		{fmt.Errorf("%w: context deadline exceeded", assign.ErrChangedFiles), http.StatusBadGateway},
		{errors.New("storage down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := New(&fakeService{err: tt.err}, Options{})
			rec := serve(t, h, "pull_request", pullRequestPayload, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSkippedResponse(t *testing.T) {
	h := New(&fakeService{result: &assign.Result{Skipped: true, SkipKeyword: "wip"}}, Options{})

	rec := serve(t, h, "pull_request", pullRequestPayload, nil)
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["status"] != "skipped" || body["keyword"] != "wip" {
		t.Errorf("status = %d, body %v", rec.Code, body)
	}
}

func TestMissingRepository(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, Options{})

	rec := serve(t, h, "issues", `{"action": "opened", "issue": {"number": 1}}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(svc.items) != 0 {
		t.Error("expected no invocation")
	}
}

func TestSignature(t *testing.T) {
	svc := &fakeService{}
	h := New(svc, Options{Secret: "s3cret"})

	rec := serve(t, h, "pull_request", pullRequestPayload, http.Header{
		"X-Hub-Signature-256": {Sign("wrong", []byte(pullRequestPayload))},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", rec.Code)
	}

	rec = serve(t, h, "pull_request", pullRequestPayload, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: status = %d, want 401", rec.Code)
	}

	rec = serve(t, h, "pull_request", pullRequestPayload, http.Header{
		"X-Hub-Signature-256": {Sign("s3cret", []byte(pullRequestPayload))},
	})
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature: status = %d, want 200", rec.Code)
	}
	if len(svc.items) != 1 {
		t.Errorf("expected one invocation, got %d", len(svc.items))
	}
}

func TestPushInvalidatesConfig(t *testing.T) {
	inv := &fakeInvalidator{}
	h := New(&fakeService{}, Options{Invalidator: inv})

	body := `{"repository": {"name": "r", "full_name": "o/r"}, "commits": [{"modified": ["README.md"]}, {"added": [".github/auto_assign.yml"]}]}`
	if rec := serve(t, h, "push", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !slices.Equal(inv.invalidated, []string{"o/r"}) {
		t.Errorf("invalidated = %v", inv.invalidated)
	}

	body = `{"repository": {"name": "r", "full_name": "o/r"}, "commits": [{"modified": ["main.go"]}]}`
	serve(t, h, "push", body, nil)
	if len(inv.invalidated) != 1 {
		t.Errorf("expected no invalidation for unrelated pushes, got %v", inv.invalidated)
	}
}

func TestPingAndUnknownEvents(t *testing.T) {
	h := New(&fakeService{}, Options{})

	if body := decode(t, serve(t, h, "ping", `{}`, nil)); body["status"] != "pong" {
		t.Errorf("ping body = %v", body)
	}
	if body := decode(t, serve(t, h, "star", `{}`, nil)); body["status"] != "ignored" {
		t.Errorf("star body = %v", body)
	}
	if rec := serve(t, h, "pull_request", `not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d", rec.Code)
	}
}
