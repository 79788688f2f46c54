package health

import (
	"context"

	"nestkbd/internal/ime"
)

// Reporter is anything that summarizes its own health, such as the
// keyboard's combined metrics and IME check.
type Reporter interface {
	CheckHealth() (bool, string)
}

// ReporterCheck maps a Reporter onto a check. A failing report is
// degraded, not unhealthy: the keyboard still accepts input.
func ReporterCheck(r Reporter) Check {
	return func(ctx context.Context) CheckResult {
		ok, detail := r.CheckHealth()
		if !ok {
			return CheckResult{Status: StatusDegraded, Message: detail}
		}
		return CheckResult{Status: StatusHealthy, Message: detail}
	}
}

// IMEStatus reports the sync state of an IME engine.
type IMEStatus interface {
	Mode() ime.Mode
	SyncState() ime.SyncState
	Health() ime.Health
}

// IMECheck reports Synced with no failures as healthy, an engine that has
// not synced yet or has failed cycles as degraded, and one that is
// recovering as unhealthy.
func IMECheck(e IMEStatus) Check {
	return func(ctx context.Context) CheckResult {
		h := e.Health()
		state := e.SyncState()
		details := map[string]any{
			"mode":                 e.Mode().String(),
			"sync_state":           state.String(),
			"consecutive_failures": h.ConsecutiveFailures,
			"last_context":         string(h.LastContext),
		}
		if !h.LastReconciledAt.IsZero() {
			details["last_reconciled_at"] = h.LastReconciledAt
		}

		result := CheckResult{Details: details}
		switch {
		case state == ime.Recovering:
			result.Status = StatusUnhealthy
			result.Message = "ime recovering"
		case state == ime.Unsynced:
			result.Status = StatusDegraded
			result.Message = "ime not yet synced"
		case h.ConsecutiveFailures > 0:
			result.Status = StatusDegraded
			result.Message = "ime sync failing"
		default:
			result.Status = StatusHealthy
			result.Message = "ime synced"
		}
		return result
	}
}

// PingCheck returns a check for a store reachable through ping, such as
// the sync journal.
func PingCheck(what string, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: what + " unreachable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: what + " ok"}
	}
}
