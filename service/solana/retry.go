package solana

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Retry reasons, used as metric labels.
const (
	retryReasonRateLimit = "rate_limit"
	retryReasonTransient = "timeout_or_error"
	retryReasonLegacy    = "parse_error"
)

// JSON-RPC codes the Solana node returns for data that will never appear on
// retry (skipped slot, pruned history, bad params).
var terminalRPCCodes = map[int]struct{}{
	-32007: {}, // slot skipped
	-32009: {}, // slot missing in long-term storage
	-32011: {}, // transaction history not available
	-32602: {}, // invalid params
	-32601: {}, // method not found
}

var rateLimitTokens = []string{
	"429",
	"too many requests",
	"rate limit",
}

var transientTokens = []string{
	"timeout",
	"timed out",
	"temporarily",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"502",
	"503",
	"504",
	"server closed idle connection",
}

// classifyError reports whether err is worth retrying and why.
func classifyError(err error) (transient bool, reason string) {
	if err == nil {
		return false, ""
	}
	if errors.Is(err, context.Canceled) {
		return false, ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, retryReasonTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, retryReasonTransient
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if _, terminal := terminalRPCCodes[rpcErr.Code]; terminal {
			return false, ""
		}
		if rpcErr.Code == 429 {
			return true, retryReasonRateLimit
		}
		if (rpcErr.Code <= -32000 && rpcErr.Code >= -32099) || rpcErr.Code == -32603 {
			return true, retryReasonTransient
		}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, rateLimitTokens) {
		return true, retryReasonRateLimit
	}
	if containsAny(lower, transientTokens) {
		return true, retryReasonTransient
	}
	return false, ""
}

// isLegacyDecodeError matches the decode failure some nodes produce when a
// legacy transaction is requested with a max supported version.
func isLegacyDecodeError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'")
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
