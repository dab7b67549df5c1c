package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func withTestClient(t *testing.T, ts *testServer) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestTriggerCommand_AllUsers(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /trigger-daily": `{"status":"accepted","users":3}`,
	})
	withTestClient(t, ts)

	if err := runCommand(t, "trigger"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Path != "/trigger-daily" || r.Method != "POST" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "" {
		t.Errorf("body.user_id = %q, want empty for all-users trigger", body["user_id"])
	}
}

func TestTriggerCommand_SingleUser(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /trigger-daily": `{"status":"accepted","users":1}`,
	})
	withTestClient(t, ts)

	if err := runCommand(t, "trigger", "--user", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "u1" {
		t.Errorf("body.user_id = %q, want u1", body["user_id"])
	}
}

func TestUserCreateCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /users": `{"user_id":"u-new","name":"Ana"}`,
	})
	withTestClient(t, ts)

	if err := runCommand(t, "user", "create", "Ana", "--d1", "strength"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["name"] != "Ana" || body["d1"] != "strength" {
		t.Errorf("body = %v", body)
	}
}

func TestProgressAddCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /users/u1/progress": `{"status":"created"}`,
	})
	withTestClient(t, ts)

	if err := runCommand(t, "progress", "add", "u1", "ran 5k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["text"] != "ran 5k" {
		t.Errorf("body.text = %q", body["text"])
	}
}

func TestChallengeListCommand_Error(t *testing.T) {
	ts := newTestServer(t, nil)
	withTestClient(t, ts)

	if err := runCommand(t, "challenge", "list", "u1"); err == nil {
		t.Fatal("expected error from 404 response")
	}
}

func TestClientHonorsContextCancellation(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /users": `{"user_ids":[]}`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ts.client().get(ctx, "/users"); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if len(ts.requests) != 0 {
		t.Errorf("canceled request should not reach the server, got %d", len(ts.requests))
	}
}

func TestServerErrorSurfaced(t *testing.T) {
	ts := newTestServer(t, nil)
	withTestClient(t, ts)

	err := runCommand(t, "user", "show", "ghost")
	if err == nil {
		t.Fatal("expected error for missing user")
	}
}
