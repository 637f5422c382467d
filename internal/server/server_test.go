package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"boardflow/internal/assistant"
	"boardflow/internal/config"
	"boardflow/internal/db"
	"boardflow/internal/domain"
	"boardflow/internal/engine"
	"boardflow/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusInternalServerError)
	}))
	aiCfg := cfg.AI
	aiCfg.BaseURL = provider.URL
	orch := assistant.NewOrchestrator(e, aiCfg, nil)

	handler, err := New(Config{
		Engine:    e,
		Assistant: orch,
		BasePath:  "/v1",
		Auth:      AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
			provider.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
	Message string          `json:"message"`
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal envelope from %q: %v", string(data), err)
		}
	}
	return res, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return v
}

func TestHealthNeedsNoToken(t *testing.T) {
	srv := newTestServer(t)
	res, env := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("health status %d, env %+v", res.StatusCode, env)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	srv := newTestServer(t)
	res, env := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/organizations", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	if env.Success || env.Error == nil || env.Error.Code != "unauthenticated" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestBoardLifecycle(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	owner := bearer(t, "u1")

	res, env := doJSON(t, client, http.MethodPost, srv.URL+"/v1/organizations", map[string]any{
		"name": "Acme", "slug": "acme",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org status %d: %+v", res.StatusCode, env)
	}
	org := decode[domain.Organization](t, env.Data)

	res, env = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"organization_id": org.ID, "name": "Board",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %+v", res.StatusCode, env)
	}
	project := decode[domain.Project](t, env.Data)
	if project.Visibility != "team" {
		t.Fatalf("expected default team visibility, got %s", project.Visibility)
	}

	res, env = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/columns", map[string]any{
		"title": "Backlog",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create column status %d: %+v", res.StatusCode, env)
	}
	column := decode[domain.Column](t, env.Data)

	res, env = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"column_id": column.ID, "title": "Ship it",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %+v", res.StatusCode, env)
	}
	task := decode[domain.Task](t, env.Data)
	if task.Status != "backlog" || task.TokenEstimate != 500 {
		t.Fatalf("unexpected task defaults: %+v", task)
	}

	res, env = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+project.ID+"/analytics", nil, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("analytics status %d: %+v", res.StatusCode, env)
	}
	analytics := decode[engine.ProjectAnalytics](t, env.Data)
	if analytics.TotalTasks != 1 || analytics.TotalColumns != 1 {
		t.Fatalf("unexpected analytics: %+v", analytics)
	}
}

func TestForbiddenCarriesRequiredRoles(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	owner := bearer(t, "u1")

	_, env := doJSON(t, client, http.MethodPost, srv.URL+"/v1/organizations", map[string]any{
		"name": "Acme", "slug": "acme",
	}, owner)
	org := decode[domain.Organization](t, env.Data)

	res, env := doJSON(t, client, http.MethodGet, srv.URL+"/v1/organizations/"+org.ID, nil, bearer(t, "stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", res.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "forbidden" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	res, env := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/nope", nil, bearer(t, "u1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "not_found" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestErrorResponsesStayBareEnvelopes(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/tasks/nope", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range bearer(t, "u1") {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal %q: %v", string(data), err)
	}
	for _, key := range []string{"$schema", "Body"} {
		if _, ok := raw[key]; ok {
			t.Fatalf("error body wrapped, got %q", string(data))
		}
	}
	var success bool
	if err := json.Unmarshal(raw["success"], &success); err != nil || success {
		t.Fatalf("expected top-level success:false, got %q", string(data))
	}
	var info ErrorInfo
	if err := json.Unmarshal(raw["error"], &info); err != nil || info.Code != "not_found" {
		t.Fatalf("expected top-level error envelope, got %q", string(data))
	}
}

func TestAssistantDegradesGracefully(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	owner := bearer(t, "u1")

	_, env := doJSON(t, client, http.MethodPost, srv.URL+"/v1/organizations", map[string]any{
		"name": "Acme", "slug": "acme",
	}, owner)
	org := decode[domain.Organization](t, env.Data)
	_, env = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"organization_id": org.ID, "name": "Board",
	}, owner)
	project := decode[domain.Project](t, env.Data)

	res, env := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assistant", map[string]any{
		"input": "create task for onboarding", "projectId": project.ID,
	}, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assistant status %d: %+v", res.StatusCode, env)
	}
	resp := decode[assistant.Response](t, env.Data)
	if resp.Type != "general_answer" || resp.TokensUsed != 0 {
		t.Fatalf("expected degraded assistant response, got %+v", resp)
	}
}
