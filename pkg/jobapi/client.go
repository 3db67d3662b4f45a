// Package jobapi is a client for the asynchronous summarization job service.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/summary/domain"
)

// StatusResponse is the body of GET {base}/status/{id}.
type StatusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type runRequest struct {
	Input struct {
		EmailContent string `json:"email_content"`
	} `json:"input"`
}

// Run submits emailContent and returns the job id.
func (c *Client) Run(ctx context.Context, emailContent string) (string, error) {
	var body runRequest
	body.Input.EmailContent = emailContent

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/run", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("job api returned no job id")
	}
	return resp.ID, nil
}

// Status fetches the current state of job id.
func (c *Client) Status(ctx context.Context, id string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+id, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job api %s %s: %w: %w", method, path, mailboxdomain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read job api response: %w: %w", mailboxdomain.ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("job api %s %s: %w", method, path, domain.ErrJobAPIUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("job api %s %s (%d): %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
		if sentinel := mailboxdomain.StatusError(resp.StatusCode); sentinel != nil {
			return fmt.Errorf("%s: %w", msg, sentinel)
		}
		return fmt.Errorf("%s", msg)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse job api response: %w", err)
	}
	return nil
}
