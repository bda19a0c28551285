package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleTransfers() []indexer.TransferRecord {
	alice := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	return []indexer.TransferRecord{
		{
			Signature: "sig-big",
			Timestamp: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			Direction: indexer.Received,
			Amount:    decimal.RequireFromString("250"),
		},
		{
			Signature:    "sig-small",
			Timestamp:    time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
			Direction:    indexer.Sent,
			Amount:       decimal.RequireFromString("0.42"),
			Counterparty: &alice,
		},
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{
			name: "rfc3339",
			in:   "2024-01-15T10:30:00Z",
			want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "rfc3339 with offset normalizes to UTC",
			in:   "2024-01-15T10:30:00+02:00",
			want: time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
		},
		{
			name: "bare date as start",
			in:   "2024-01-15",
			want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "bare date as end",
			in:       "2024-01-15",
			endOfDay: true,
			want:     time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC),
		},
		{
			name:    "garbage",
			in:      "last tuesday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.in, tt.endOfDay)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestFilterTransfers(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		want    []string
	}{
		{
			name: "no filters keeps everything",
			want: []string{"sig-big", "sig-small"},
		},
		{
			name:    "direction match",
			filters: []string{`.direction == "sent"`},
			want:    []string{"sig-small"},
		},
		{
			name:    "amount is a decimal string",
			filters: []string{`(.amount | tonumber) > 100`},
			want:    []string{"sig-big"},
		},
		{
			name:    "all filters must match",
			filters: []string{`.direction == "received"`, `.counterparty != null`},
			want:    []string{},
		},
		{
			name:    "missing field is falsy",
			filters: []string{`.counterparty`},
			want:    []string{"sig-small"},
		},
		{
			name:    "runtime error excludes record",
			filters: []string{`.amount | tonumber | error`},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileJQFilters(tt.filters)
			require.NoError(t, err)

			got, err := filterTransfers(sampleTransfers(), codes, discardLogger())
			require.NoError(t, err)

			sigs := make([]string, 0, len(got))
			for _, rec := range got {
				sigs = append(sigs, rec.Signature)
			}
			assert.Equal(t, tt.want, sigs)
		})
	}
}

func TestCompileJQFilters_Invalid(t *testing.T) {
	_, err := compileJQFilters([]string{`.direction ==`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]interface{}{}))
}

func TestPrintTransfers(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTransfers(&buf, sampleTransfers(), false))
		out := buf.String()
		assert.Contains(t, out, "sig-big")
		assert.Contains(t, out, "received")
		assert.Contains(t, out, "0.42")
		assert.Contains(t, out, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
		assert.Contains(t, out, "Total: 2 transfer(s)")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTransfers(&buf, sampleTransfers(), true))

		var out struct {
			Transfers []indexer.TransferRecord `json:"transfers"`
			Count     int                      `json:"count"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, 2, out.Count)
		assert.Equal(t, indexer.Sent, out.Transfers[1].Direction)
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTransfers(&buf, nil, false))
		assert.Contains(t, buf.String(), "No transfers found")
	})
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var buf bytes.Buffer
	app.Writer = &buf
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"splindex"}, args...))
	return buf.String(), err
}

func TestTransfersCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, testWallet, r.URL.Query().Get("wallet"))
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-01-31T23:59:59Z", r.URL.Query().Get("end"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transfers": sampleTransfers(),
			"count":     2,
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL,
		"transfers", "--start", "2024-01-01", "--end", "2024-01-31", "--jq", `.direction == "sent"`, testWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "sig-small")
	assert.NotContains(t, out, "sig-big")
}

func TestTransfersCommand_Validation(t *testing.T) {
	_, err := runApp(t, "transfers", "--start", "2024-02-01", "--end", "2024-01-01", testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is before --start")

	_, err = runApp(t, "transfers", "--start", "2024-01-01", "--end", "2024-01-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet address is required")
}

func TestJobsCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/index-jobs":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["publish"])
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"workflow_id": "job-42", "status": "running"})
		case r.Method == "GET" && r.URL.Path == "/api/v1/index-jobs/job-42":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"workflow_id": "job-42",
				"status":      "completed",
				"result": map[string]interface{}{
					"transfers":      sampleTransfers(),
					"transfer_count": 2,
					"published":      2,
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL,
		"jobs", "start", "--start", "2024-01-01", "--end", "2024-01-31", "--publish", testWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "job-42")

	out, err = runApp(t, "--server-url", server.URL,
		"jobs", "start", "--start", "2024-01-01", "--end", "2024-01-31", "--publish", "--wait", "--poll-interval", "1ms", testWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "sig-big")

	out, err = runApp(t, "--server-url", server.URL, "jobs", "get", "job-42")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      completed")
	assert.Contains(t, out, "Published:   2")
}

func TestHealthCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	_, err = runApp(t, "--server-url", unhealthy.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy status: 500")
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "splindex CLI")
	assert.Contains(t, out, "Version: dev")
}
