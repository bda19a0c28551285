package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/brojonat/splindex/service/indexer"
)

// TransferList is the result of a synchronous indexing request.
type TransferList struct {
	WalletAddress string                   `json:"wallet_address"`
	TokenMint     string                   `json:"token_mint"`
	Start         time.Time                `json:"start"`
	End           time.Time                `json:"end"`
	Transfers     []indexer.TransferRecord `json:"transfers"`
	Count         int                      `json:"count"`
}

// JobRequest describes an indexing job to start on the server.
type JobRequest struct {
	WalletAddress string
	TokenMint     string // empty uses the server's configured mint
	Start         time.Time
	End           time.Time
	Publish       bool
}

// JobResult is the outcome of a completed indexing job.
type JobResult struct {
	WalletAddress string                   `json:"wallet_address"`
	TokenMint     string                   `json:"token_mint"`
	Start         time.Time                `json:"start"`
	End           time.Time                `json:"end"`
	Transfers     []indexer.TransferRecord `json:"transfers"`
	TransferCount int                      `json:"transfer_count"`
	Published     int                      `json:"published"`
	CompletedAt   time.Time                `json:"completed_at"`
}

// Job reports the state of an indexing job.
type Job struct {
	WorkflowID string     `json:"workflow_id"`
	Status     string     `json:"status"` // running, completed, failed, canceled, terminated, timed_out
	StartedAt  *time.Time `json:"started_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Done reports whether the job has stopped running.
func (j *Job) Done() bool {
	return j.Status != "running"
}

// Client is the HTTP client for the splindex service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new splindex service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Synchronous indexing can take minutes for busy wallets.
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListTransfers asks the server to index wallet's transfers of mint within
// [start, end]. An empty mint uses the server's configured mint.
func (c *Client) ListTransfers(ctx context.Context, wallet, mint string, start, end time.Time) (*TransferList, error) {
	params := url.Values{}
	params.Set("wallet", wallet)
	if mint != "" {
		params.Set("mint", mint)
	}
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/transfers?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var list TransferList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transfers listed", "wallet", wallet, "count", list.Count)
	return &list, nil
}

// StartIndexJob starts an asynchronous indexing job and returns its workflow ID.
func (c *Client) StartIndexJob(ctx context.Context, job JobRequest) (string, error) {
	reqBody := map[string]interface{}{
		"wallet_address": job.WalletAddress,
		"start":          job.Start.UTC().Format(time.RFC3339),
		"end":            job.End.UTC().Format(time.RFC3339),
		"publish":        job.Publish,
	}
	if job.TokenMint != "" {
		reqBody["token_mint"] = job.TokenMint
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/index-jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", c.parseErrorResponse(resp)
	}

	var response struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("index job started", "workflow_id", response.WorkflowID)
	return response.WorkflowID, nil
}

// GetIndexJob retrieves the status of an indexing job.
func (c *Client) GetIndexJob(ctx context.Context, workflowID string) (*Job, error) {
	u := fmt.Sprintf("%s/api/v1/index-jobs/%s", c.baseURL, url.PathEscape(workflowID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &job, nil
}

// AwaitIndexJob polls GetIndexJob every interval until the job stops running
// or ctx is done.
func (c *Client) AwaitIndexJob(ctx context.Context, workflowID string, interval time.Duration) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetIndexJob(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}

		c.logger.Debug("index job still running", "workflow_id", workflowID)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
