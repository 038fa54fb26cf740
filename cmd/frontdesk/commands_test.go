package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/frontdesk/internal/config"
	"github.com/kalambet/frontdesk/internal/storage"
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
	statuses map[string]int
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{statuses: map[string]int{}}

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
			if code, ok := ts.statuses[key]; ok {
				w.WriteHeader(code)
			}
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
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

var ctx = context.Background()

func TestIncomingCall_Answered(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/agent/incoming-call": `{"answered":true,"answer":"9am to 7pm","message":"9am to 7pm"}`,
	})

	res, err := ts.client().incomingCall(ctx, "What are your hours?", "+15550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Answered || res.Answer != "9am to 7pm" {
		t.Errorf("result = %+v, want answered with hours", res)
	}
	if res.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", res.Status)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "What are your hours?" || body["callerPhone"] != "+15550100" {
		t.Errorf("body = %v", body)
	}
}

func TestIncomingCall_Escalated(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/agent/incoming-call": `{"answered":false,"requestId":"hr-1","message":"Let me check with my supervisor and get back to you."}`,
	})
	ts.statuses["POST /api/agent/incoming-call"] = http.StatusCreated

	res, err := ts.client().incomingCall(ctx, "Do you do balayage?", "+15550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answered {
		t.Error("answered = true, want false")
	}
	if res.RequestID != "hr-1" || res.Status != http.StatusCreated {
		t.Errorf("result = %+v", res)
	}
}

func TestIncomingCall_UnavailableCarriesApology(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/agent/incoming-call": `{"answered":false,"message":"I'm having trouble reaching my supervisor right now, please try again shortly.","error":{"message":"store unavailable","type":"unavailable_error"}}`,
	})
	ts.statuses["POST /api/agent/incoming-call"] = http.StatusServiceUnavailable

	res, err := ts.client().incomingCall(ctx, "Do you do balayage?", "+15550100")
	if err != nil {
		t.Fatalf("503 should not be an error: %v", err)
	}
	if res.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.Status)
	}
	if !strings.Contains(res.Message, "trouble reaching my supervisor") {
		t.Errorf("message = %q, want apology", res.Message)
	}
}

func TestIncomingCall_BadRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/agent/incoming-call": `{"error":{"message":"question is required","type":"invalid_request_error"}}`,
	})
	ts.statuses["POST /api/agent/incoming-call"] = http.StatusBadRequest

	_, err := ts.client().incomingCall(ctx, "", "+15550100")
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %q, want it to contain 400", err.Error())
	}
}

func TestListHelpRequests_StatusFilter(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/help-requests": `[{"id":"hr-1","question":"q","callerPhone":"+1","status":"pending","createdAt":"2026-05-02T14:00:00Z","timeoutAt":"2026-05-02T14:30:00Z"}]`,
	})

	got, err := ts.client().listHelpRequests(ctx, "pending")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Status != storage.StatusPending {
		t.Fatalf("got %+v", got)
	}
	if want := time.Date(2026, 5, 2, 14, 30, 0, 0, time.UTC); !got[0].TimeoutAt.Equal(want) {
		t.Errorf("timeoutAt = %v, want %v", got[0].TimeoutAt, want)
	}
	if ts.requests[0].Path != "/api/help-requests?status=pending" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestRequestsList_InvalidStatus(t *testing.T) {
	defer rootCmd.SetArgs(nil)
	defer requestsListCmd.Flags().Set("status", "")

	rootCmd.SetArgs([]string{"requests", "list", "--status", "closed"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
	if !strings.Contains(err.Error(), "invalid --status") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestResolveHelpRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/help-requests/hr-1/resolve": `{"request":{"id":"hr-1","status":"resolved","answer":"Yes, we do.","resolvedBy":"Dana"},"knowledgeEntry":{"id":"kb-9","question":"Do you do balayage?","answer":"Yes, we do.","sourceRequestId":"hr-1"}}`,
	})

	res, err := ts.client().resolveHelpRequest(ctx, "hr-1", "Yes, we do.", "Dana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Request.Status != storage.StatusResolved || res.Entry.ID != "kb-9" {
		t.Errorf("resolution = %+v", res)
	}
	if res.Entry.SourceRequestID != "hr-1" {
		t.Errorf("sourceRequestId = %q", res.Entry.SourceRequestID)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["answer"] != "Yes, we do." || body["supervisorName"] != "Dana" {
		t.Errorf("body = %v", body)
	}
}

func TestResolveHelpRequest_Conflict(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/help-requests/hr-1/resolve": `{"error":{"message":"request hr-1 is timeout: invalid state","type":"conflict_error"}}`,
	})
	ts.statuses["POST /api/help-requests/hr-1/resolve"] = http.StatusConflict

	_, err := ts.client().resolveHelpRequest(ctx, "hr-1", "late answer", "")
	if err == nil {
		t.Fatal("expected error for 409")
	}
	if !strings.Contains(err.Error(), "409") {
		t.Errorf("error = %q, want 409", err.Error())
	}
}

func TestCheckTimeouts(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/help-requests/check-timeouts": `{"timedOutCount":3}`,
	})

	n, err := ts.client().checkTimeouts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("timedOutCount = %d, want 3", n)
	}
}

func TestSearchKnowledge_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/knowledge-base/search": `{"results":[{"id":"kb-1","question":"hours?","answer":"9-7"}],"match":{"id":"kb-1","question":"hours?","answer":"9-7"}}`,
	})

	res, err := ts.client().searchKnowledge(ctx, "hours & prices?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Match == nil || res.Match.ID != "kb-1" || len(res.Candidates) != 1 {
		t.Errorf("lookup = %+v", res)
	}
	if want := "/api/knowledge-base/search?question=hours+%26+prices%3F"; ts.requests[0].Path != want {
		t.Errorf("path = %q, want %q", ts.requests[0].Path, want)
	}
}

// pagedKnowledgeServer serves total entries through the knowledge-base
// listing, honoring limit and offset like the real handler.
func pagedKnowledgeServer(t *testing.T, total int) (*apiClient, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if limit > maxKnowledgePage {
			limit = maxKnowledgePage
		}
		page := []storage.KnowledgeEntry{}
		for i := offset; i < total && i < offset+limit; i++ {
			page = append(page, storage.KnowledgeEntry{ID: fmt.Sprintf("kb-%d", i), Question: fmt.Sprintf("q%d", i)})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, httpClient: srv.Client()}, &paths
}

func TestListKnowledge_PagesServer(t *testing.T) {
	client, paths := pagedKnowledgeServer(t, 250)

	got, err := client.ListKnowledge(ctx, 500, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 250 {
		t.Fatalf("got %d entries, want 250", len(got))
	}
	if got[249].ID != "kb-249" {
		t.Errorf("last id = %q", got[249].ID)
	}
	want := []string{
		"/api/knowledge-base?limit=100&offset=0",
		"/api/knowledge-base?limit=100&offset=100",
		"/api/knowledge-base?limit=100&offset=200",
	}
	if strings.Join(*paths, ",") != strings.Join(want, ",") {
		t.Errorf("paths = %v, want %v", *paths, want)
	}
}

func TestListKnowledge_Limit(t *testing.T) {
	client, paths := pagedKnowledgeServer(t, 250)

	got, err := client.ListKnowledge(ctx, 20, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 20 || got[0].ID != "kb-5" {
		t.Fatalf("got %d entries starting at %v", len(got), got)
	}
	if len(*paths) != 1 {
		t.Errorf("expected 1 request, got %v", *paths)
	}
}

func TestStatus_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestReportStatus_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health":                       `{"status":"ok"}`,
		"GET /api/help-requests":            `[]`,
		"GET /api/knowledge-base/most-used": `[{"id":"kb-1","question":"hours?","answer":"9-7","usageCount":4}]`,
	})

	reportStatus(ctx, ts.client(), config.Config{})

	if len(ts.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d: %+v", len(ts.requests), ts.requests)
	}
	if ts.requests[1].Path != "/api/help-requests?status=pending" {
		t.Errorf("pending path = %q", ts.requests[1].Path)
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/api/help-requests")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestWriteHelpRequest(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	resolvedAt := time.Date(2026, 5, 2, 14, 10, 0, 0, time.UTC)
	var buf bytes.Buffer
	writeHelpRequest(&buf, storage.HelpRequest{
		ID:          "hr-1",
		Question:    "Do you do balayage?",
		CallerPhone: "+15550100",
		Status:      storage.StatusResolved,
		Answer:      "Yes, we do.",
		ResolvedAt:  &resolvedAt,
		ResolvedBy:  "Dana",
	})

	out := buf.String()
	for _, want := range []string{"hr-1 [resolved]", "Do you do balayage?", "Answer:   Yes, we do.", "by Dana"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Due:") {
		t.Errorf("resolved request should not show a due time:\n%s", out)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Server.APIToken = "secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if k.Key == "server.api_token" && k.Value == "secret" {
			t.Error("api token should be masked")
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}
