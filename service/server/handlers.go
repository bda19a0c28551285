package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/splindex/service/indexer"
	"github.com/brojonat/splindex/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are at most 44 chars
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// transfersResponse is the JSON body returned by GET /api/v1/transfers.
type transfersResponse struct {
	WalletAddress string                   `json:"wallet_address"`
	TokenMint     string                   `json:"token_mint"`
	Start         time.Time                `json:"start"`
	End           time.Time                `json:"end"`
	Transfers     []indexer.TransferRecord `json:"transfers"`
	Count         int                      `json:"count"`
}

// handleListTransfers returns a handler that indexes transfers synchronously.
// GET /api/v1/transfers?wallet=ADDRESS&mint=MINT&start=RFC3339&end=RFC3339
func handleListTransfers(idx temporal.TransferIndexer, defaultMint string, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		wallet := query.Get("wallet")
		if err := validateAddress(wallet); err != nil {
			logger.Debug("invalid wallet", "wallet", wallet, "error", err)
			writeError(w, "invalid wallet: "+err.Error(), http.StatusBadRequest)
			return
		}

		mint := query.Get("mint")
		if mint == "" {
			mint = defaultMint
		}
		if err := validateAddress(mint); err != nil {
			logger.Debug("invalid mint", "mint", mint, "error", err)
			writeError(w, "invalid mint: "+err.Error(), http.StatusBadRequest)
			return
		}

		start, end, err := parseWindow(query.Get("start"), query.Get("end"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		records, err := idx.IndexTransfers(ctx, wallet, mint, start, end)
		if err != nil {
			switch {
			case errors.Is(err, indexer.ErrInvalidAddress):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, context.DeadlineExceeded):
				logger.Warn("indexing timed out", "wallet", wallet, "timeout", timeout)
				writeError(w, "indexing timed out: use an index job for large windows", http.StatusGatewayTimeout)
			default:
				logger.Error("failed to index transfers", "wallet", wallet, "mint", mint, "error", err)
				writeError(w, "failed to index transfers", http.StatusBadGateway)
			}
			return
		}

		if records == nil {
			records = []indexer.TransferRecord{}
		}
		logger.Debug("transfers indexed", "wallet", wallet, "count", len(records))

		writeJSON(w, transfersResponse{
			WalletAddress: wallet,
			TokenMint:     mint,
			Start:         start,
			End:           end,
			Transfers:     records,
			Count:         len(records),
		}, http.StatusOK)
	})
}

// startIndexJobRequest is the body of POST /api/v1/index-jobs.
type startIndexJobRequest struct {
	WalletAddress string `json:"wallet_address"`
	TokenMint     string `json:"token_mint"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Publish       bool   `json:"publish"`
}

// handleStartIndexJob returns a handler that starts an indexing workflow.
// POST /api/v1/index-jobs
func handleStartIndexJob(jobs temporal.JobClient, defaultMint string, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startIndexJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode index job request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, "invalid wallet_address: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.TokenMint == "" {
			req.TokenMint = defaultMint
		}
		if err := validateAddress(req.TokenMint); err != nil {
			writeError(w, "invalid token_mint: "+err.Error(), http.StatusBadRequest)
			return
		}

		start, end, err := parseWindow(req.Start, req.End)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		workflowID, err := jobs.StartIndexJob(r.Context(), temporal.IndexJobInput{
			WalletAddress: req.WalletAddress,
			TokenMint:     req.TokenMint,
			Start:         start,
			End:           end,
			Publish:       req.Publish,
			Timeout:       timeout,
		})
		if err != nil {
			logger.Error("failed to start index job", "wallet", req.WalletAddress, "error", err)
			writeError(w, "failed to start index job", http.StatusInternalServerError)
			return
		}

		logger.Info("index job started",
			"workflow_id", workflowID,
			"wallet", req.WalletAddress,
			"mint", req.TokenMint,
		)

		writeJSON(w, map[string]interface{}{
			"workflow_id": workflowID,
			"status":      temporal.JobStatusRunning,
		}, http.StatusAccepted)
	})
}

// handleGetIndexJob returns a handler that reports an indexing workflow's status.
// GET /api/v1/index-jobs/{workflow_id}
func handleGetIndexJob(jobs temporal.JobClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if workflowID == "" {
			writeError(w, "workflow_id is required", http.StatusBadRequest)
			return
		}

		status, err := jobs.GetIndexJob(r.Context(), workflowID)
		if err != nil {
			if errors.Is(err, temporal.ErrJobNotFound) {
				writeError(w, "index job not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get index job", "workflow_id", workflowID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet or mint address for safety and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: not a 32-byte public key")
	}

	return nil
}

// parseWindow parses RFC3339 bounds and checks their order.
func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, errorf("start and end are required (RFC3339)")
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, errorf("invalid start: must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, errorf("invalid end: must be RFC3339")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errorf("end must not be before start")
	}
	return start.UTC(), end.UTC(), nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
