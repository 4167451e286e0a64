// Package billing reports session usage to the wallet backend and maps
// its refusals onto the fatal billing errors that terminate a session.
package billing

import (
	"context"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// UsageEvent is one metered unit of work, emitted per usage-bearing wire
// event (token usage reports, definite subtitle durations, usage frames).
type UsageEvent struct {
	SubjectType string
	SubjectID   string
	Provider    string
	Model       string
	Endpoint    string
	Method      string

	InputTokens     int
	OutputTokens    int
	DurationSeconds float64
	Modality        string

	SessionID  string
	ResponseID string
	EventType  string
	Metadata   map[string]any
}

// Result is the wallet's verdict on one usage event.
type Result struct {
	Success   bool
	Remaining float64
	Deducted  float64
	Error     string
}

// Wallet refusal strings that must terminate the session.
const (
	errInsufficientBalance = "Insufficient balance"
	errWalletFrozen        = "Wallet is frozen"
)

// FatalError maps a refusal result to its terminating error, or nil when
// the result is merely unsuccessful. Non-fatal billing failures never
// interrupt a session.
func FatalError(res Result) error {
	switch res.Error {
	case errInsufficientBalance:
		return errorsx.New(errorsx.ReasonBillingInsufficient, "usage rejected: %s", res.Error)
	case errWalletFrozen:
		return errorsx.New(errorsx.ReasonBillingFrozen, "usage rejected: %s", res.Error)
	default:
		return nil
	}
}

// Reporter submits usage events to the wallet.
type Reporter interface {
	Report(ctx context.Context, ev UsageEvent) (Result, error)
}

// NopReporter accepts everything. Used when no wallet is configured.
type NopReporter struct{}

func (NopReporter) Report(ctx context.Context, ev UsageEvent) (Result, error) {
	return Result{Success: true}, nil
}
