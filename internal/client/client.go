// Package client provides an HTTP client for the document API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

// Client talks to the document API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses DOCFLOW_SERVER_URL or defaults to localhost:8080.
// Timeout can be configured via DOCFLOW_CLIENT_TIMEOUT (default 120s, which
// the server's stage timeout sits inside).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DOCFLOW_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeout := 120 * time.Second
	if t := os.Getenv("DOCFLOW_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response of the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	DocID      string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Retryable reports whether err is a transient Busy or Conflict response.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "Busy" || apiErr.Code == "Conflict"
}

// Upload sends the file at path. An empty fileType lets the server infer it
// from the file extension.
func (c *Client) Upload(ctx context.Context, path, fileType string) (*models.UploadResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return c.UploadBytes(ctx, filepath.Base(path), fileType, data)
}

// UploadBytes sends data as a multipart upload named filename.
func (c *Client) UploadBytes(ctx context.Context, filename, fileType string, data []byte) (*models.UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if fileType != "" {
		if err := mw.WriteField("file_type", fileType); err != nil {
			return nil, fmt.Errorf("write file_type: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var out models.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Parse runs the Parse stage of docID.
func (c *Client) Parse(ctx context.Context, docID string) (*models.ParseResponse, error) {
	var out models.ParseResponse
	if err := c.stage(ctx, "/parse", docID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate runs the Validate stage of docID.
func (c *Client) Validate(ctx context.Context, docID string) (*models.ValidateResponse, error) {
	var out models.ValidateResponse
	if err := c.stage(ctx, "/validate", docID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export runs the Export stage of docID.
func (c *Client) Export(ctx context.Context, docID string) (*models.ExportResponse, error) {
	var out models.ExportResponse
	if err := c.stage(ctx, "/export", docID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns document summaries, newest first.
func (c *Client) List(ctx context.Context) ([]models.DocumentSummary, error) {
	var out models.DocumentListResponse
	if err := c.do(ctx, http.MethodGet, "/documents", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Get returns the full document including artifacts and history.
func (c *Client) Get(ctx context.Context, docID string) (*models.Document, error) {
	var out models.Document
	if err := c.do(ctx, http.MethodGet, "/document/"+url.PathEscape(docID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download copies the current export artifact of docID to w.
func (c *Client) Download(ctx context.Context, docID string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+url.PathEscape(docID), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, apiError(resp.StatusCode, body)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read response: %w", err)
	}
	return n, nil
}

func (c *Client) stage(ctx context.Context, path, docID string, result any) error {
	reqBody, err := json.Marshal(models.StageRequest{DocID: docID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(reqBody), result)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, reqBody io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, body)
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func apiError(status int, body []byte) error {
	var er models.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Code: er.Code, Message: er.Error, DocID: er.DocID}
}
