package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchreview/internal/logging"
	"matchreview/internal/match"
	"matchreview/internal/services"
)

// ErrRequestFailed is returned (wrapped) by every Client method on failure.
var ErrRequestFailed = services.ErrRequestFailed

// Client is the typed JSON contract of the matching backend. Calls are never
// retried; a failure is returned to the caller immediately.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithLogger attaches a logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "gateway")
	}
}

// New creates a gateway client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("gateway base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OpenProject asks the backend to load the project rooted at req.Root.
func (c *Client) OpenProject(ctx context.Context, req OpenProjectRequest) error {
	if strings.TrimSpace(req.Root) == "" {
		return services.Wrap(services.ErrValidation, "gateway", "open project", "root must not be empty", nil)
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/project/open", nil, req, &resp); err != nil {
		return err
	}
	return checkEnvelope(resp, "POST /project/open")
}

// Scenes lists the project's scenes in order.
func (c *Client) Scenes(ctx context.Context) ([]match.Scene, error) {
	var resp scenesResponse
	if err := c.do(ctx, http.MethodGet, "/scenes", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Scenes, nil
}

// Segments lists the segments of one scene.
func (c *Client) Segments(ctx context.Context, sceneID int64) ([]match.Segment, error) {
	params := url.Values{}
	params.Set("clip_scene_id", strconv.FormatInt(sceneID, 10))
	var resp []match.Segment
	if err := c.do(ctx, http.MethodGet, "/segments", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Candidates lists ranked candidates for a segment.
func (c *Client) Candidates(ctx context.Context, segID int64, q CandidateQuery) ([]match.Candidate, error) {
	params := url.Values{}
	params.Set("seg_id", strconv.FormatInt(segID, 10))
	if q.Mode != "" {
		params.Set("mode", q.Mode)
	}
	if q.K > 0 {
		params.Set("k", strconv.Itoa(q.K))
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	var resp itemsResponse
	if err := c.do(ctx, http.MethodGet, "/candidates", params, nil, &resp); err != nil {
		return nil, err
	}
	if err := checkEnvelope(resp.envelope, "GET /candidates"); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SceneNeighborhood lists candidates from the anchor scene ± span.
func (c *Client) SceneNeighborhood(ctx context.Context, segID int64, span int) ([]match.Candidate, error) {
	params := url.Values{}
	params.Set("seg_id", strconv.FormatInt(segID, 10))
	params.Set("span", strconv.Itoa(span))
	var resp itemsResponse
	if err := c.do(ctx, http.MethodGet, "/candidates/scene_neighborhood", params, nil, &resp); err != nil {
		return nil, err
	}
	if err := checkEnvelope(resp.envelope, "GET /candidates/scene_neighborhood"); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Corridor fetches the anchor-relative corridor.
func (c *Client) Corridor(ctx context.Context, segID int64, span int) (Corridor, error) {
	params := url.Values{}
	params.Set("seg_id", strconv.FormatInt(segID, 10))
	params.Set("span", strconv.Itoa(span))
	var resp corridorResponse
	if err := c.do(ctx, http.MethodGet, "/candidates/corridor", params, nil, &resp); err != nil {
		return Corridor{}, err
	}
	return Corridor{Prev: resp.Prev, Current: resp.Anchors, Next: resp.Next}, nil
}

// Summary fetches every candidate bucket for a segment in one round trip.
func (c *Client) Summary(ctx context.Context, segID int64, q SummaryQuery) (Summary, error) {
	params := url.Values{}
	params.Set("seg_id", strconv.FormatInt(segID, 10))
	params.Set("span", strconv.Itoa(q.Span))
	if q.K > 0 {
		params.Set("k", strconv.Itoa(q.K))
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	var resp Summary
	if err := c.do(ctx, http.MethodGet, "/candidates/summary", params, nil, &resp); err != nil {
		return Summary{}, err
	}
	return resp, nil
}

// Apply commits chosen candidates for one or more segments.
func (c *Client) Apply(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return services.Wrap(services.ErrValidation, "gateway", "apply", "no changes", nil)
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/apply", nil, applyRequest{Changes: changes}, &resp); err != nil {
		return err
	}
	return checkEnvelope(resp, "POST /apply")
}

// Overrides returns the backend's override map keyed by segment id.
func (c *Client) Overrides(ctx context.Context) (map[int64]match.Candidate, error) {
	var resp overridesResponse
	if err := c.do(ctx, http.MethodGet, "/overrides", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[int64]match.Candidate, len(resp.Data))
	for key, cand := range resp.Data {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, services.Wrap(ErrRequestFailed, "gateway", "GET /overrides", "decode segment key "+strconv.Quote(key), err)
		}
		out[id] = cand
	}
	return out, nil
}

// UpdateReview records a review classification.
func (c *Client) UpdateReview(ctx context.Context, segID int64, status match.ReviewStatus) error {
	var resp envelope
	body := reviewUpdateRequest{SegmentID: segID, Status: string(status)}
	if err := c.do(ctx, http.MethodPost, "/review/update", nil, body, &resp); err != nil {
		return err
	}
	return checkEnvelope(resp, "POST /review/update")
}

// ReviewState fetches every recorded classification keyed by segment id.
func (c *Client) ReviewState(ctx context.Context) (map[int64]match.ReviewStatus, error) {
	var resp reviewStateResponse
	if err := c.do(ctx, http.MethodGet, "/review/state", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[int64]match.ReviewStatus, len(resp.Segs))
	for key, entry := range resp.Segs {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, services.Wrap(ErrRequestFailed, "gateway", "GET /review/state", "decode segment key "+strconv.Quote(key), err)
		}
		status, err := match.ParseReviewStatus(entry.Status)
		if err != nil {
			return nil, services.Wrap(ErrRequestFailed, "gateway", "GET /review/state", "", err)
		}
		out[id] = status
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	op := method + " " + path
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(ErrRequestFailed, "gateway", op, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return services.Wrap(ErrRequestFailed, "gateway", op, "build request", err)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	logger := c.logger.With(logging.String(logging.FieldCorrelationID, requestID))
	if err != nil {
		logger.Debug("backend request failed", logging.String("op", op), logging.Duration("latency", latency), logging.Error(err))
		return services.Wrap(ErrRequestFailed, "gateway", op, fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	logger.Debug("backend request", logging.String("op", op), logging.Int("status", resp.StatusCode), logging.Duration("latency", latency))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("status %d (latency=%v)", resp.StatusCode, latency)
		if text := strings.TrimSpace(string(snippet)); text != "" {
			msg += ": " + text
		}
		return services.Wrap(ErrRequestFailed, "gateway", op, msg, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(ErrRequestFailed, "gateway", op, "decode response", err)
	}
	return nil
}

func checkEnvelope(env envelope, op string) error {
	if env.failed() {
		return services.Wrap(ErrRequestFailed, "gateway", op, "backend reported ok=false", nil)
	}
	return nil
}
