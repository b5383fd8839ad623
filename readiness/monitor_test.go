package readiness

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	client "github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	cfg     *ServiceConfig
	err     error
	fetches int
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*ServiceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	cfg := *f.cfg
	return &cfg, nil
}

func (f *fakeFetcher) set(cfg *ServiceConfig, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.err = err
}

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProber) CheckAccess(ctx context.Context, sub syntax.DID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestMonitorLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID}}
	prober := &fakeProber{}
	m := NewMonitor(labelerDID, fetcher, nil)

	st, err := m.Current()
	assert.Equal(Unavailable, st)
	assert.NoError(err)

	// refresh without a session stays Unavailable
	st, err = m.Refresh(ctx)
	assert.Equal(Unavailable, st)
	assert.NoError(err)

	m.SetSession(&operatorDID, prober)
	st, _ = m.Current()
	assert.Equal(Pending, st)

	st, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(Ready, st)

	m.SetSession(nil, nil)
	st, _ = m.Current()
	assert.Equal(Unavailable, st)
}

func TestMonitorUnconfigured(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID, Needs: Needs{Key: true}}}
	m := NewMonitor(labelerDID, fetcher, nil)
	m.SetSession(&operatorDID, &fakeProber{})

	st, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(Unconfigured, st)
}

func TestMonitorUnauthorized(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID}}
	prober := &fakeProber{err: &client.APIError{StatusCode: http.StatusUnauthorized, Name: "AuthRequired"}}
	m := NewMonitor(labelerDID, fetcher, nil)
	m.SetSession(&operatorDID, prober)

	st, err := m.Refresh(ctx)
	assert.Equal(Unauthorized, st)
	assert.ErrorIs(err, ErrAccessDenied)

	st, err = m.Current()
	assert.Equal(Unauthorized, st)
	assert.ErrorIs(err, ErrAccessDenied)
}

func TestMonitorTransientFailuresLeaveState(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID}}
	prober := &fakeProber{}
	m := NewMonitor(labelerDID, fetcher, nil)
	m.SetSession(&operatorDID, prober)

	st, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(Ready, st)

	// network blip during probe: error reported, state untouched
	prober.set(fmt.Errorf("connection reset"))
	st, err = m.Refresh(ctx)
	assert.Error(err)
	assert.Equal(Ready, st)

	st, cerr := m.Current()
	assert.Equal(Ready, st)
	assert.NoError(cerr)

	// fetch failure on reconfigure: error reported, state untouched
	fetcher.set(nil, fmt.Errorf("dns failure"))
	prober.set(nil)
	st, err = m.Reconfigure(ctx, ReconfigureOptions{})
	assert.Error(err)
	assert.Equal(Ready, st)
}

func TestMonitorNoProberStaysPending(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID}}
	m := NewMonitor(labelerDID, fetcher, nil)
	m.SetSession(&operatorDID, nil)

	st, err := m.Refresh(ctx)
	assert.NoError(err)
	assert.Equal(Pending, st)
}

func TestMonitorSkipRecord(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// operator configuring their own service, declaration record missing
	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID, Needs: Needs{Record: true}}}
	prober := &fakeProber{}
	m := NewMonitor(labelerDID, fetcher, nil)
	m.SetSession(&labelerDID, prober)

	st, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(Unconfigured, st)

	skip := true
	st, err = m.Reconfigure(ctx, ReconfigureOptions{SkipRecord: &skip})
	require.NoError(t, err)
	assert.Equal(Ready, st)

	// idempotent: reconfiguring again without changes yields the same result
	st, err = m.Reconfigure(ctx, ReconfigureOptions{})
	require.NoError(t, err)
	assert.Equal(Ready, st)

	// identity change resets the suppression
	m.SetSession(&labelerDID, prober)
	st, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(Unconfigured, st)
}

func TestMonitorConfigCachedAcrossRefreshes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: labelerDID}}
	m := NewMonitor(labelerDID, fetcher, nil)
	m.SetSession(&operatorDID, &fakeProber{})

	_, err := m.Refresh(ctx)
	require.NoError(t, err)
	_, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(1, fetcher.fetches)

	// reconfigure forces a refetch
	_, err = m.Reconfigure(ctx, ReconfigureOptions{})
	require.NoError(t, err)
	assert.Equal(2, fetcher.fetches)
}

func TestMonitorServiceDID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	other := syntax.DID("did:plc:other789")
	fetcher := &fakeFetcher{cfg: &ServiceConfig{DID: other}}
	m := NewMonitor(labelerDID, fetcher, nil)

	assert.Equal(labelerDID, m.ServiceDID())

	m.SetSession(&operatorDID, &fakeProber{})
	_, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(other, m.ServiceDID())
}
