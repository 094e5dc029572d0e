package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"

	"docline/internal/config"
	"docline/internal/db"
	"docline/internal/engine"
	"docline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("proj-1"))
	handler, err := New(Config{
		Engine: e,
		Auth: AuthConfig{
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
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
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func setupProject(t *testing.T, srv *testServer) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":   "proj-1",
		"name": "Line 1",
	}, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
}

func addMemberHTTP(t *testing.T, srv *testServer, userID, role string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/members", map[string]any{
		"user_id":   userID,
		"role_code": role,
	}, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member %s: %d %s", userID, res.StatusCode, string(data))
	}
}

func TestVersionApprovalOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	setupProject(t, srv)
	addMemberHTTP(t, srv, "qm1", "quality_manager")
	addMemberHTTP(t, srv, "bo1", "business_owner")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/documents", map[string]any{
		"doc_type": "PDD",
		"title":    "Line PDD",
	}, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create document: %d %s", res.StatusCode, string(data))
	}
	var created struct {
		Document DocumentResponse `json:"document"`
		Version  VersionResponse  `json:"version"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	versionID := created.Version.ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/versions/"+versionID+"/submit", nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var submitted SubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Version.State != "IN_REVIEW" {
		t.Fatalf("expected IN_REVIEW, got %s", submitted.Version.State)
	}
	if len(submitted.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(submitted.Steps))
	}
	if len(submitted.Tasks) != 2 {
		t.Fatalf("expected 2 approval tasks, got %d", len(submitted.Tasks))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/versions/"+versionID+"/submit", nil, asActor("owner"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on resubmit, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/versions/"+versionID+"/approve", map[string]any{}, asActor("owner"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for author approve, got %d %s", res.StatusCode, string(data))
	}
	var denied errorEnvelope
	if err := json.Unmarshal(data, &denied); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if denied.Error.Code != "sod_denied" {
		t.Fatalf("expected sod_denied, got %q", denied.Error.Code)
	}
	if denied.Error.Details["rule"] != "authorCannotApprove" {
		t.Fatalf("expected authorCannotApprove rule, got %v", denied.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/versions/"+versionID+"/approve", map[string]any{
		"comment": "looks good",
	}, asActor("qm1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("qm approve: %d %s", res.StatusCode, string(data))
	}
	var first DecisionResponse
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if first.Completed {
		t.Fatal("version should not complete after first step")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/versions/"+versionID+"/approve", map[string]any{}, asActor("bo1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bo approve: %d %s", res.StatusCode, string(data))
	}
	var final DecisionResponse
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if !final.Completed {
		t.Fatal("expected completion after last step")
	}
	if final.Version.State != "APPROVED" {
		t.Fatalf("expected APPROVED, got %s", final.Version.State)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/versions/"+versionID, nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get version: %d %s", res.StatusCode, string(data))
	}
	var fetched struct {
		Version VersionResponse `json:"version"`
		Steps   []StepResponse  `json:"steps"`
	}
	if err := json.Unmarshal(data, &fetched); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	for _, s := range fetched.Steps {
		if s.Status != "APPROVED" {
			t.Fatalf("step %d status %s", s.StepNo, s.Status)
		}
	}
}

func TestRaciGenerateOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	setupProject(t, srv)
	addMemberHTTP(t, srv, "pe1", "process_engineer")

	matrix := map[string]any{
		"stages": []map[string]any{
			{
				"name": "Design",
				"tasks": []map[string]any{
					{
						"name": "PDD",
						"roles": map[string]string{
							"process_engineer": "R",
							"business_owner":   "A",
						},
					},
				},
			},
		},
	}
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/projects/proj-1/raci", matrix, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put matrix: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/raci/generate", nil, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate: %d %s", res.StatusCode, string(data))
	}
	var generated GenerateResponse
	if err := json.Unmarshal(data, &generated); err != nil {
		t.Fatalf("unmarshal generate: %v", err)
	}
	if len(generated.Created) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(generated.Created))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/raci/generate", nil, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("regenerate: %d %s", res.StatusCode, string(data))
	}
	var rerun GenerateResponse
	if err := json.Unmarshal(data, &rerun); err != nil {
		t.Fatalf("unmarshal regenerate: %v", err)
	}
	if len(rerun.Created) != 0 {
		t.Fatalf("expected idempotent rerun, created %d", len(rerun.Created))
	}
	if len(rerun.Skipped) != 2 {
		t.Fatalf("expected 2 skipped, got %d", len(rerun.Skipped))
	}
	for _, s := range rerun.Skipped {
		if s.Reason != "already exists" {
			t.Fatalf("unexpected skip reason %q", s.Reason)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, string(data))
	}
	var unauth errorEnvelope
	if err := json.Unmarshal(data, &unauth); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if unauth.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", unauth.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth: %d %s", res.StatusCode, string(data))
	}
}
