package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/casepilot/internal/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running casepilot server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Generate starts a solution task and returns its id.
func (c *Client) Generate(ctx context.Context, input models.UserInput, method models.InputMethod) (string, error) {
	body := struct {
		models.UserInput
		Method models.InputMethod `json:"method"`
	}{input, method}
	var out struct {
		SolutionID string `json:"solution_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/solutions/generate", body, &out); err != nil {
		return "", err
	}
	return out.SolutionID, nil
}

// Solution fetches a solution task.
func (c *Client) Solution(ctx context.Context, id string) (*models.Solution, error) {
	var sol models.Solution
	if err := c.do(ctx, http.MethodGet, "/api/v1/solutions/"+url.PathEscape(id), nil, &sol); err != nil {
		return nil, err
	}
	return &sol, nil
}

// WaitSolution polls a task until it leaves the generating state or ctx is done.
func (c *Client) WaitSolution(ctx context.Context, id string, interval time.Duration) (*models.Solution, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sol, err := c.Solution(ctx, id)
		if err != nil {
			return nil, err
		}
		if sol.Status.Terminal() {
			return sol, nil
		}
		select {
		case <-ctx.Done():
			return sol, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Solutions lists solution tasks.
func (c *Client) Solutions(ctx context.Context, filter models.SolutionFilter) (*models.SolutionList, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	setPage(q, filter.Page, filter.PageSize)
	var list models.SolutionList
	if err := c.do(ctx, http.MethodGet, "/api/v1/solutions?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Chat asks a follow-up question about a solution.
func (c *Client) Chat(ctx context.Context, id, message string) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/solutions/"+url.PathEscape(id)+"/chat", map[string]string{"message": message}, &out)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// Cancel stops a running solution task.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/solutions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Cases lists cases.
func (c *Client) Cases(ctx context.Context, filter models.CaseFilter) (*models.CaseList, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"industry":   filter.Industry,
		"scenario":   filter.Scenario,
		"technology": filter.Technology,
		"keyword":    filter.Keyword,
		"sort_by":    filter.SortBy,
		"sort_order": filter.SortOrder,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	setPage(q, filter.Page, filter.PageSize)
	var list models.CaseList
	if err := c.do(ctx, http.MethodGet, "/api/v1/cases?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SearchCases runs a semantic case search.
func (c *Client) SearchCases(ctx context.Context, query string, topK int) ([]*models.CaseMatch, error) {
	q := url.Values{"q": {query}}
	if topK > 0 {
		q.Set("top_k", strconv.Itoa(topK))
	}
	var out struct {
		Results []*models.CaseMatch `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/cases/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Import starts a background library import on the server.
func (c *Client) Import(ctx context.Context, dir string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/cases/import", map[string]string{"directory": dir}, nil)
}

// Status fetches server statistics.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func setPage(q url.Values, page, pageSize int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
