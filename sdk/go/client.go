package doclinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Docline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Document represents the API document model (partial).
type Document struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	DocType          string  `json:"doc_type"`
	Title            string  `json:"title"`
	CurrentVersionID *string `json:"current_version_id,omitempty"`
}

// Version represents a document version.
type Version struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Label      string `json:"label"`
	State      string `json:"state"`
	Cycle      int    `json:"cycle"`
}

// Step represents an approval step of the current review cycle.
type Step struct {
	ID           string `json:"id"`
	StepNo       int    `json:"step_no"`
	RoleRequired string `json:"role_required"`
	Status       string `json:"status"`
	Comment      string `json:"comment,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	TaskType   string  `json:"task_type"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	DueAt      *string `json:"due_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Action     string `json:"action"`
	ProjectID  string `json:"project_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// SubmitResult reports what a submission generated.
type SubmitResult struct {
	Version Version `json:"version"`
	Steps   []Step  `json:"steps"`
	Tasks   []Task  `json:"tasks"`
}

// Decision reports an approve or reject outcome.
type Decision struct {
	Step      Step    `json:"step"`
	Version   Version `json:"version"`
	Completed bool    `json:"completed,omitempty"`
	Cascaded  []Step  `json:"cascaded,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDocument creates a document with its initial draft.
func (c *Client) CreateDocument(ctx context.Context, docType, title string) (Document, Version, error) {
	body := map[string]any{
		"doc_type": docType,
		"title":    title,
	}
	var resp struct {
		Document Document `json:"document"`
		Version  Version  `json:"version"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("documents"), body, &resp)
	return resp.Document, resp.Version, err
}

// SubmitVersion submits a draft for review.
func (c *Client) SubmitVersion(ctx context.Context, versionID string) (SubmitResult, error) {
	var resp SubmitResult
	endpoint := fmt.Sprintf("v0/versions/%s/submit", url.PathEscape(versionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// ApproveStep approves the current pending step.
func (c *Client) ApproveStep(ctx context.Context, versionID, comment string) (Decision, error) {
	var resp Decision
	endpoint := fmt.Sprintf("v0/versions/%s/approve", url.PathEscape(versionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// RejectStep rejects the current pending step.
func (c *Client) RejectStep(ctx context.Context, versionID, comment string) (Decision, error) {
	var resp Decision
	endpoint := fmt.Sprintf("v0/versions/%s/reject", url.PathEscape(versionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// CreateTask creates an ad hoc task.
func (c *Client) CreateTask(ctx context.Context, title, taskType string) (Task, error) {
	body := map[string]any{
		"title":     title,
		"task_type": taskType,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GenerateRaciTasks runs the RACI generator for the project.
func (c *Client) GenerateRaciTasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Created []Task `json:"created"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("raci/generate"), nil, &resp)
	return resp.Created, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if c.ProjectID != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%sproject_id=%s", endpoint, sep, url.QueryEscape(c.ProjectID))
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
