package provider

import (
	"context"
	"errors"
	"net"

	"github.com/loomhq/loom/internal/fault"
)

// FailoverReason classifies a provider failure for the failover predicate.
type FailoverReason string

const (
	ReasonRateLimit   FailoverReason = "rate_limit"
	ReasonServerError FailoverReason = "server_error"
	ReasonTimeout     FailoverReason = "timeout"
	ReasonUnknown     FailoverReason = "unknown"
)

// WrapError converts a vendor SDK error into a PROVIDER_ERROR fault tagged
// with the failure reason and HTTP status when known. Timeouts map to
// TIMEOUT so the runner's deadline handling stays uniform across vendors.
func WrapError(provider, model string, status int, err error) *fault.Error {
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return fault.Wrap(fault.CodeTimeout, err, "%s request timed out", provider).
			With("provider", provider).
			With("model", model).
			With("reason", string(ReasonTimeout))
	}

	reason := ReasonUnknown
	switch {
	case status == 429:
		reason = ReasonRateLimit
	case status >= 500:
		reason = ReasonServerError
	}
	fe := fault.Wrap(fault.CodeProviderError, err, "%s request failed", provider).
		With("provider", provider).
		With("model", model).
		With("reason", string(reason))
	if status > 0 {
		fe = fe.With("status", status)
	}
	return fe
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ReasonOf extracts the failover reason from a wrapped provider error.
// Non-provider faults report ReasonUnknown, except TIMEOUT faults which
// report ReasonTimeout.
func ReasonOf(err error) FailoverReason {
	fe, ok := fault.As(err)
	if !ok {
		return ReasonUnknown
	}
	if fe.Code == fault.CodeTimeout {
		return ReasonTimeout
	}
	if r, ok := fe.Context["reason"].(string); ok {
		return FailoverReason(r)
	}
	return ReasonUnknown
}
