package readiness

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Prober verifies that the moderation service honors the session's delegated
// authorization. The only reliable check is an authenticated request through
// the service; a locally valid session says nothing about server-side
// acceptance.
type Prober interface {
	CheckAccess(ctx context.Context, sub syntax.DID) error
}

// ConfigFetcher loads the moderation service configuration from the network.
type ConfigFetcher interface {
	Fetch(ctx context.Context) (*ServiceConfig, error)
}

type ReconfigureOptions struct {
	// When set, updates the one-cycle record-requirement suppression.
	SkipRecord *bool
}

// Monitor owns the readiness state: it recomputes whenever session identity,
// service identity, or configuration changes, and serves the latest
// classification. Overlapping recomputations may race; the last one to
// resolve wins, guarded by a generation counter.
type Monitor struct {
	fetch      ConfigFetcher
	serviceDID syntax.DID
	log        *slog.Logger

	mu         sync.Mutex
	sub        *syntax.DID
	prober     Prober
	cfg        *ServiceConfig
	skipRecord bool
	state      State
	err        error
	gen        uint64
}

func NewMonitor(serviceDID syntax.DID, fetch ConfigFetcher, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		fetch:      fetch,
		serviceDID: serviceDID,
		log:        logger.With("system", "readiness"),
		state:      Unavailable,
	}
}

// ServiceDID returns the configured service identity, preferring the fetched
// configuration over the static default.
func (m *Monitor) ServiceDID() syntax.DID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg != nil {
		return m.cfg.DID
	}
	return m.serviceDID
}

// SetSession switches the authenticated subject and its probe capability.
// Resets the one-cycle skipRecord flag and invalidates the current state;
// in-flight recomputations for the previous identity are discarded.
func (m *Monitor) SetSession(sub *syntax.DID, p Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sub = sub
	m.prober = p
	m.skipRecord = false
	m.err = nil
	m.gen++
	if sub == nil {
		m.state = Unavailable
	} else {
		m.state = Pending
	}
}

// Reconfigure forces a refetch of the service configuration and a
// recomputation, optionally updating skipRecord. Calling it twice without any
// state change yields the same result.
func (m *Monitor) Reconfigure(ctx context.Context, opts ReconfigureOptions) (State, error) {
	m.mu.Lock()
	if opts.SkipRecord != nil {
		m.skipRecord = *opts.SkipRecord
	}
	m.cfg = nil
	m.gen++
	m.mu.Unlock()

	return m.Refresh(ctx)
}

// Current returns the last computed state without recomputing.
func (m *Monitor) Current() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.err
}

// Refresh runs one recomputation: fetch configuration if missing, probe the
// service, classify. Transient failures leave the state untouched and are
// returned for the caller's retry policy.
func (m *Monitor) Refresh(ctx context.Context) (State, error) {
	m.mu.Lock()
	gen := m.gen
	sub := m.sub
	prober := m.prober
	cfg := m.cfg
	skip := m.skipRecord
	m.mu.Unlock()

	if sub == nil {
		return m.commit(gen, Unavailable, nil)
	}

	if cfg == nil {
		fetched, err := m.fetch.Fetch(ctx)
		if err != nil {
			m.log.Warn("service configuration fetch failed", "err", err)
			return m.fail(gen, err)
		}
		m.mu.Lock()
		if m.gen == gen {
			m.cfg = fetched
		}
		m.mu.Unlock()
		cfg = fetched
	}

	if prober == nil {
		return m.commit(gen, Pending, nil)
	}

	probeErr := prober.CheckAccess(ctx, *sub)
	st, err := Classify(sub, cfg, probeErr, skip)
	if err != nil {
		// transient probe failure: no terminal state
		m.log.Warn("authorization probe failed", "did", sub, "err", err)
		return m.fail(gen, err)
	}

	if st == Unauthorized {
		return m.commit(gen, st, ErrAccessDenied)
	}
	return m.commit(gen, st, nil)
}

// Records a computed state unless a newer recomputation superseded this one.
func (m *Monitor) commit(gen uint64, st State, err error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return m.state, m.err
	}
	m.state = st
	m.err = err
	return st, err
}

// Records a transient failure: the state is left as-is.
func (m *Monitor) fail(gen uint64, err error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return m.state, m.err
	}
	return m.state, err
}
