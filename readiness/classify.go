package readiness

import (
	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Classify computes the readiness state from its inputs.
//
// probeErr is the outcome of the authenticated probe against the moderation
// service (nil on success). A 401-equivalent probe failure is terminal
// (Unauthorized); any other probe failure is returned as a retryable error
// and does not produce a state.
//
// The record requirement only applies when the operator is configuring their
// own service (service DID equals the authenticated subject), and can be
// suppressed for one reconfiguration cycle with skipRecord.
func Classify(sub *syntax.DID, cfg *ServiceConfig, probeErr error, skipRecord bool) (State, error) {
	if sub == nil {
		return Unavailable, nil
	}
	if cfg == nil {
		return Pending, nil
	}

	if probeErr != nil {
		if authorizationDenied(probeErr) {
			return Unauthorized, nil
		}
		return Pending, probeErr
	}

	if cfg.Needs.Key || cfg.Needs.Service ||
		(!skipRecord && cfg.Needs.Record && cfg.DID == *sub) {
		return Unconfigured, nil
	}
	return Ready, nil
}
