// Package taskservice is the HTTP client for the hub's task and profile API.
package taskservice

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

	"github.com/BTreeMap/AskForHelp/internal/models"
)

const (
	// DefaultTimeout bounds every hub request.
	DefaultTimeout = 10 * time.Second
	// DefaultPageSize is the page size used when listing application tasks.
	DefaultPageSize = 100
	// APIKeyHeader carries the application key on every request.
	APIKeyHeader = "x-wenet-component-apikey"

	maxErrorBody = 512
)

// ErrAuthExpired is matched by errors for requests the hub rejected as unauthorized.
var ErrAuthExpired = errors.New("taskservice: authentication expired")

// APIError is a non-2xx hub response.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("taskservice: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps 401 and 403 responses to ErrAuthExpired.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuthExpired
	}
	return nil
}

// Service is the subset of the hub API used by the bot.
type Service interface {
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)
	CreateTaskTransaction(ctx context.Context, tr models.TaskTransaction) error
	GetTask(ctx context.Context, taskID string) (models.Task, error)
	GetUserProfile(ctx context.Context, userID string) (models.UserProfile, error)
	GetAllTasksOfApplication(ctx context.Context, appID string) ([]models.Task, error)
}

// Opts holds client configuration.
type Opts struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	PageSize   int
	HTTPClient *http.Client
}

// Option configures a Client.
type Option func(*Opts)

func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

func WithPageSize(n int) Option {
	return func(o *Opts) { o.PageSize = n }
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the hub service API. Requests are never retried.
type Client struct {
	baseURL  *url.URL
	apiKey   string
	pageSize int
	http     *http.Client
}

var _ Service = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultTimeout, PageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("taskservice: base URL must not be empty")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("taskservice: invalid base URL: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("TaskService NewClient", "baseURL", base.String(), "timeout", hc.Timeout, "apiKeySet", cfg.APIKey != "")
	return &Client{baseURL: base, apiKey: cfg.APIKey, pageSize: cfg.PageSize, http: hc}, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL.String() + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, op, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("taskservice: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("taskservice: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("taskservice: %s: %w", op, err)
	}
	defer resp.Body.Close()
	slog.Debug("TaskService request", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		slog.Error("TaskService request failed", "op", op, "status", resp.StatusCode)
		return apiErr
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("taskservice: %s: decode response: %w", op, err)
	}
	return nil
}

// CreateTask posts a new task and returns the hub's copy, including its ID.
func (c *Client) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	var created models.Task
	if err := c.do(ctx, "CreateTask", http.MethodPost, c.endpoint("task"), task, &created); err != nil {
		return models.Task{}, err
	}
	slog.Info("TaskService CreateTask", "taskID", created.ID, "requester", task.RequesterID)
	return created, nil
}

func (c *Client) CreateTaskTransaction(ctx context.Context, tr models.TaskTransaction) error {
	if err := c.do(ctx, "CreateTaskTransaction", http.MethodPost, c.endpoint("task", "transaction"), tr, nil); err != nil {
		return err
	}
	slog.Info("TaskService CreateTaskTransaction", "taskID", tr.TaskID, "label", tr.Label)
	return nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	var task models.Task
	if err := c.do(ctx, "GetTask", http.MethodGet, c.endpoint("task", taskID), nil, &task); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (c *Client) GetUserProfile(ctx context.Context, userID string) (models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.do(ctx, "GetUserProfile", http.MethodGet, c.endpoint("user", "profile", userID), nil, &profile); err != nil {
		return models.UserProfile{}, err
	}
	return profile, nil
}

type taskPage struct {
	Offset int           `json:"offset"`
	Total  int           `json:"total"`
	Tasks  []models.Task `json:"tasks"`
}

// GetAllTasksOfApplication pages through every open task of appID.
func (c *Client) GetAllTasksOfApplication(ctx context.Context, appID string) ([]models.Task, error) {
	var all []models.Task
	for offset := 0; ; {
		q := url.Values{}
		q.Set("appId", appID)
		q.Set("hasCloseTs", "false")
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(c.pageSize))

		var page taskPage
		if err := c.do(ctx, "GetAllTasksOfApplication", http.MethodGet, c.endpoint("tasks")+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Tasks...)
		offset += len(page.Tasks)
		if len(page.Tasks) == 0 || offset >= page.Total {
			break
		}
	}
	slog.Debug("TaskService GetAllTasksOfApplication", "appID", appID, "count", len(all))
	return all, nil
}
