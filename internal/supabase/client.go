package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adi-253/classroomx/backend/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a single-row read matches nothing.
	ErrNotFound = errors.New("supabase: not found")

	// ErrConflict matches APIErrors caused by a unique constraint violation.
	ErrConflict = errors.New("supabase: conflict")
)

// APIError is a non-2xx PostgREST or Storage response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("supabase error (status %d)", e.Status)
	}
	return fmt.Sprintf("supabase error (status %d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrConflict) match unique violations.
func (e *APIError) Is(target error) bool {
	return target == ErrConflict && (e.Status == http.StatusConflict || e.Code == "23505")
}

// Client is a wrapper around the Supabase REST and Storage APIs.
// A Client from NewClient uses the service role key and is meant for system
// work. Requests made for a user go through AsUser so row level security
// applies to them.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger

	// set by AsUser; an empty token never falls back to the service key
	asUser      bool
	accessToken string
}

// NewClient creates a new Supabase client with the given configuration.
func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		apiKey:  cfg.SupabaseKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.With(zap.String("component", "supabase")),
	}
}

// request describes one REST call.
type request struct {
	method string
	table  string
	query  url.Values
	body   interface{}
	prefer string
}

// doRequest executes an HTTP request to the Supabase REST API.
// It automatically adds authentication headers and handles the response.
func (c *Client) doRequest(ctx context.Context, r request) ([]byte, error) {
	var reqBody io.Reader
	if r.body != nil {
		jsonBody, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, r.table)
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	prefer := r.prefer
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	return c.do(req)
}

// AsUser returns a client that shares c's connection pool but authorizes
// every request with the user's access token.
func (c *Client) AsUser(accessToken string) *Client {
	u := *c
	u.asUser = true
	u.accessToken = accessToken
	return &u
}

func (c *Client) authorize(req *http.Request) {
	bearer := c.apiKey
	if c.asUser {
		bearer = c.accessToken
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		c.log.Debug("request rejected",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return nil, apiErr
	}

	return respBody, nil
}

// selectRows runs a GET and decodes the JSON array into out.
func (c *Client) selectRows(ctx context.Context, table string, q url.Values, out interface{}) error {
	respBody, err := c.doRequest(ctx, request{method: http.MethodGet, table: table, query: q})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", table, err)
	}
	return nil
}

func eq(v string) string  { return "eq." + v }
func neq(v string) string { return "neq." + v }
func lt(v string) string  { return "lt." + v }
