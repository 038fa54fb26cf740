package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/frontdesk/internal/api"
	"github.com/kalambet/frontdesk/internal/config"
	"github.com/kalambet/frontdesk/internal/escalation"
	"github.com/kalambet/frontdesk/internal/storage"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is frontdesk running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// callResult is the incoming-call response plus the HTTP status, so callers
// can tell an answer (200), an escalation (201) and an apology (503) apart.
type callResult struct {
	api.IncomingCallResponse
	Status int
}

// incomingCall relays a caller question. A 503 is not an error: the body
// still carries the phrase to say to the caller.
func (c *apiClient) incomingCall(ctx context.Context, question, phone string) (callResult, error) {
	resp, err := c.post(ctx, "/api/agent/incoming-call", api.IncomingCallRequest{
		Question:    question,
		CallerPhone: phone,
	})
	if err != nil {
		return callResult{}, err
	}

	res := callResult{Status: resp.StatusCode}
	if resp.StatusCode == http.StatusServiceUnavailable {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&res.IncomingCallResponse); err != nil {
			return callResult{}, fmt.Errorf("decoding response: %w", err)
		}
		return res, nil
	}
	if err := decodeJSON(resp, &res.IncomingCallResponse); err != nil {
		return callResult{}, err
	}
	return res, nil
}

func (c *apiClient) listHelpRequests(ctx context.Context, status string) ([]storage.HelpRequest, error) {
	path := "/api/help-requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []storage.HelpRequest
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) getHelpRequest(ctx context.Context, id string) (storage.HelpRequest, error) {
	resp, err := c.get(ctx, "/api/help-requests/"+url.PathEscape(id))
	if err != nil {
		return storage.HelpRequest{}, err
	}
	var out storage.HelpRequest
	if err := decodeJSON(resp, &out); err != nil {
		return storage.HelpRequest{}, err
	}
	return out, nil
}

func (c *apiClient) resolveHelpRequest(ctx context.Context, id, answer, by string) (escalation.Resolution, error) {
	resp, err := c.post(ctx, "/api/help-requests/"+url.PathEscape(id)+"/resolve", api.ResolveRequest{
		Answer:         answer,
		SupervisorName: by,
	})
	if err != nil {
		return escalation.Resolution{}, err
	}
	var out escalation.Resolution
	if err := decodeJSON(resp, &out); err != nil {
		return escalation.Resolution{}, err
	}
	return out, nil
}

func (c *apiClient) checkTimeouts(ctx context.Context) (int64, error) {
	resp, err := c.post(ctx, "/api/help-requests/check-timeouts", struct{}{})
	if err != nil {
		return 0, err
	}
	var out struct {
		TimedOutCount int64 `json:"timedOutCount"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return 0, err
	}
	return out.TimedOutCount, nil
}

func (c *apiClient) searchKnowledge(ctx context.Context, question string) (escalation.Lookup, error) {
	resp, err := c.get(ctx, "/api/knowledge-base/search?question="+url.QueryEscape(question))
	if err != nil {
		return escalation.Lookup{}, err
	}
	var out escalation.Lookup
	if err := decodeJSON(resp, &out); err != nil {
		return escalation.Lookup{}, err
	}
	return out, nil
}

func (c *apiClient) mostUsed(ctx context.Context, limit int) ([]storage.KnowledgeEntry, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/api/knowledge-base/most-used?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var out []storage.KnowledgeEntry
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// maxKnowledgePage is the largest page the knowledge-base endpoint serves.
const maxKnowledgePage = 100

// ListKnowledge fetches up to limit entries starting at offset, paging the
// server in chunks it accepts. It lets the client back a knowledge.Cache.
func (c *apiClient) ListKnowledge(ctx context.Context, limit, offset int) ([]storage.KnowledgeEntry, error) {
	var all []storage.KnowledgeEntry
	for len(all) < limit {
		n := min(limit-len(all), maxKnowledgePage)
		resp, err := c.get(ctx, fmt.Sprintf("/api/knowledge-base?limit=%d&offset=%d", n, offset+len(all)))
		if err != nil {
			return nil, err
		}
		var page []storage.KnowledgeEntry
		if err := decodeJSON(resp, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < n {
			break
		}
	}
	return all, nil
}
