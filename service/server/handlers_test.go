package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/splindex/service/config"
	"github.com/brojonat/splindex/service/indexer"
	"github.com/brojonat/splindex/service/metrics"
	"github.com/brojonat/splindex/service/temporal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	usdtMint   = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

type indexCall struct {
	wallet, mint string
	start, end   time.Time
}

type fakeIndexer struct {
	mu      sync.Mutex
	records []indexer.TransferRecord
	err     error
	block   bool
	calls   []indexCall
}

func (f *fakeIndexer) IndexTransfers(ctx context.Context, wallet, mint string, start, end time.Time) ([]indexer.TransferRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, indexCall{wallet, mint, start, end})
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, fmt.Errorf("listing signatures: %w", ctx.Err())
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		TokenMintAddress: config.USDCMainnetMint,
		IndexTimeout:     time.Minute,
	}
}

func newTestServer(idx temporal.TransferIndexer, jobs temporal.JobClient) http.Handler {
	s := New(":0", testConfig(), idx, jobs, metrics.NewMetrics(prometheus.NewRegistry()), testLogger())
	return s.Handler()
}

func sampleRecords() []indexer.TransferRecord {
	counterparty := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	return []indexer.TransferRecord{
		{
			Signature:    "5sig",
			Timestamp:    time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			Direction:    indexer.Received,
			Amount:       decimal.RequireFromString("50"),
			Counterparty: &counterparty,
			AccountIndex: 2,
		},
	}
}

func TestListTransfers(t *testing.T) {
	idx := &fakeIndexer{records: sampleRecords()}
	handler := newTestServer(idx, nil)

	req := httptest.NewRequest("GET",
		"/api/v1/transfers?wallet="+testWallet+"&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp struct {
		TokenMint string                   `json:"token_mint"`
		Transfers []indexer.TransferRecord `json:"transfers"`
		Count     int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, config.USDCMainnetMint, resp.TokenMint)
	require.Len(t, resp.Transfers, 1)
	assert.Equal(t, indexer.Received, resp.Transfers[0].Direction)
	assert.True(t, decimal.RequireFromString("50").Equal(resp.Transfers[0].Amount))

	require.Len(t, idx.calls, 1)
	assert.Equal(t, testWallet, idx.calls[0].wallet)
	assert.Equal(t, config.USDCMainnetMint, idx.calls[0].mint)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), idx.calls[0].start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), idx.calls[0].end)
}

func TestListTransfers_ExplicitMintAndEmptyResult(t *testing.T) {
	idx := &fakeIndexer{}
	handler := newTestServer(idx, nil)

	req := httptest.NewRequest("GET",
		"/api/v1/transfers?wallet="+testWallet+"&mint="+usdtMint+"&start=2024-01-01T00:00:00Z&end=2024-01-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transfers":[]`)
	assert.Equal(t, usdtMint, idx.calls[0].mint)
}

func TestListTransfers_PathologicalInput(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		expectedError string
	}{
		{
			name:          "missing wallet",
			query:         "start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z",
			expectedError: "address is required",
		},
		{
			name:          "address too long",
			query:         "wallet=" + strings.Repeat("A", 500) + "&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z",
			expectedError: "address too long",
		},
		{
			name:          "non base58 wallet",
			query:         "wallet=0OIl&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z",
			expectedError: "base58",
		},
		{
			name:          "base58 but not a public key",
			query:         "wallet=abc&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z",
			expectedError: "32-byte",
		},
		{
			name:          "control characters in mint",
			query:         "wallet=" + testWallet + "&mint=abc%00def&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z",
			expectedError: "control characters",
		},
		{
			name:          "missing start",
			query:         "wallet=" + testWallet + "&end=2024-02-01T00:00:00Z",
			expectedError: "start and end are required",
		},
		{
			name:          "malformed end",
			query:         "wallet=" + testWallet + "&start=2024-01-01T00:00:00Z&end=yesterday",
			expectedError: "invalid end",
		},
		{
			name:          "end before start",
			query:         "wallet=" + testWallet + "&start=2024-02-01T00:00:00Z&end=2024-01-01T00:00:00Z",
			expectedError: "end must not be before start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndexer{}
			handler := newTestServer(idx, nil)

			req := httptest.NewRequest("GET", "/api/v1/transfers?"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
			assert.Empty(t, idx.calls, "indexer must not run for invalid input")
		})
	}
}

func TestListTransfers_IndexerErrors(t *testing.T) {
	query := "/api/v1/transfers?wallet=" + testWallet + "&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z"

	t.Run("invalid address from indexer", func(t *testing.T) {
		handler := newTestServer(&fakeIndexer{err: fmt.Errorf("%w: mint", indexer.ErrInvalidAddress)}, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", query, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rpc failure", func(t *testing.T) {
		handler := newTestServer(&fakeIndexer{err: errors.New("rpc unavailable")}, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", query, nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.NotContains(t, w.Body.String(), "rpc unavailable")
	})

	t.Run("timeout", func(t *testing.T) {
		cfg := testConfig()
		cfg.IndexTimeout = 10 * time.Millisecond
		s := New(":0", cfg, &fakeIndexer{block: true}, nil, nil, testLogger())

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest("GET", query, nil))
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
}

func TestStartIndexJob(t *testing.T) {
	jobs := temporal.NewMockJobClient()
	handler := newTestServer(&fakeIndexer{}, jobs)

	body := `{"wallet_address":"` + testWallet + `","start":"2024-01-01T00:00:00Z","end":"2024-02-01T00:00:00Z","publish":true}`
	req := httptest.NewRequest("POST", "/api/v1/index-jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	workflowID := resp["workflow_id"]
	require.NotEmpty(t, workflowID)
	assert.Equal(t, temporal.JobStatusRunning, resp["status"])

	input, ok := jobs.Input(workflowID)
	require.True(t, ok)
	assert.Equal(t, testWallet, input.WalletAddress)
	assert.Equal(t, config.USDCMainnetMint, input.TokenMint)
	assert.True(t, input.Publish)
	assert.Equal(t, time.Minute, input.Timeout)
}

func TestStartIndexJob_PathologicalInput(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedError string
	}{
		{
			name:          "extremely large request body",
			body:          `{"wallet_address":"` + strings.Repeat("A", 2*1024*1024) + `"}`,
			expectedError: "request body too large",
		},
		{
			name:          "malformed JSON",
			body:          `{"wallet_address":`,
			expectedError: "invalid request body",
		},
		{
			name:          "empty JSON object",
			body:          `{}`,
			expectedError: "address is required",
		},
		{
			name:          "invalid mint",
			body:          `{"wallet_address":"` + testWallet + `","token_mint":"abc","start":"2024-01-01T00:00:00Z","end":"2024-02-01T00:00:00Z"}`,
			expectedError: "invalid token_mint",
		},
		{
			name:          "end before start",
			body:          `{"wallet_address":"` + testWallet + `","start":"2024-02-01T00:00:00Z","end":"2024-01-01T00:00:00Z"}`,
			expectedError: "end must not be before start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestServer(&fakeIndexer{}, temporal.NewMockJobClient())

			req := httptest.NewRequest("POST", "/api/v1/index-jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
		})
	}
}

func TestStartIndexJob_TemporalError(t *testing.T) {
	jobs := temporal.NewMockJobClient()
	jobs.SetStartError(errors.New("temporal down"))
	handler := newTestServer(&fakeIndexer{}, jobs)

	body := `{"wallet_address":"` + testWallet + `","start":"2024-01-01T00:00:00Z","end":"2024-02-01T00:00:00Z"}`
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/index-jobs", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetIndexJob(t *testing.T) {
	jobs := temporal.NewMockJobClient()
	handler := newTestServer(&fakeIndexer{}, jobs)

	input := temporal.IndexJobInput{
		WalletAddress: testWallet,
		TokenMint:     config.USDCMainnetMint,
		Start:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	id, err := jobs.StartIndexJob(context.Background(), input)
	require.NoError(t, err)

	t.Run("running", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/index-jobs/"+id, nil))

		require.Equal(t, http.StatusOK, w.Code)
		var status temporal.IndexJobStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, temporal.JobStatusRunning, status.Status)
		assert.Nil(t, status.Result)
	})

	t.Run("completed", func(t *testing.T) {
		jobs.Complete(id, &temporal.IndexJobResult{
			WalletAddress: testWallet,
			TokenMint:     config.USDCMainnetMint,
			Transfers:     sampleRecords(),
			TransferCount: 1,
		})

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/index-jobs/"+id, nil))

		require.Equal(t, http.StatusOK, w.Code)
		var status temporal.IndexJobStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, temporal.JobStatusCompleted, status.Status)
		require.NotNil(t, status.Result)
		assert.Equal(t, 1, status.Result.TransferCount)
		assert.Equal(t, "5sig", status.Result.Transfers[0].Signature)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/index-jobs/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestJobRoutesDisabledWithoutTemporal(t *testing.T) {
	handler := newTestServer(&fakeIndexer{}, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/index-jobs", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	handler := newTestServer(&fakeIndexer{}, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/v1/transfers", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
