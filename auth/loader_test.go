package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishRecorder struct {
	mu        sync.Mutex
	published []Client
}

func (r *publishRecorder) publish(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, c)
}

func (r *publishRecorder) snapshot() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, len(r.published))
	copy(out, r.published)
	return out
}

func TestLoaderLoadedClient(t *testing.T) {
	assert := assert.New(t)

	rec := &publishRecorder{}
	l := NewLoader(rec.publish, nil)
	defer l.Close()

	client := newFakeClient()
	require.NoError(t, l.Resolve(LoadedClient(client)))

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(Client(client), got[0])
}

func TestLoaderStaticConfig(t *testing.T) {
	assert := assert.New(t)

	rec := &publishRecorder{}
	l := NewLoader(rec.publish, nil)
	defer l.Close()

	client := newFakeClient()
	builds := 0
	d := StaticConfig("pds.example.com", func() (Client, error) {
		builds++
		return client, nil
	})

	require.NoError(t, l.Resolve(d))
	// unchanged descriptor is a no-op
	require.NoError(t, l.Resolve(d))

	assert.Equal(1, builds)
	assert.Len(rec.snapshot(), 1)
}

func TestLoaderStaticConfigError(t *testing.T) {
	assert := assert.New(t)

	rec := &publishRecorder{}
	l := NewLoader(rec.publish, nil)
	defer l.Close()

	d := StaticConfig("broken", func() (Client, error) {
		return nil, fmt.Errorf("bad client metadata")
	})
	err := l.Resolve(d)
	assert.Error(err)
	assert.Empty(rec.snapshot())
}

func TestLoaderEmptyDescriptor(t *testing.T) {
	assert := assert.New(t)

	l := NewLoader(func(Client) {}, nil)
	defer l.Close()
	assert.Error(l.Resolve(ClientDescriptor{}))
}

func TestLoaderSupersededDiscoveryDropped(t *testing.T) {
	assert := assert.New(t)

	rec := &publishRecorder{}
	l := NewLoader(rec.publish, nil)
	defer l.Close()

	slowClient := newFakeClient()
	release := make(chan struct{})
	started := make(chan struct{})
	slow := LoadableConfig("slow.example.com", func(ctx context.Context) (Client, error) {
		close(started)
		<-release
		return slowClient, nil
	})
	require.NoError(t, l.Resolve(slow))
	<-started

	// a newer descriptor supersedes the outstanding discovery
	fastClient := newFakeClient()
	require.NoError(t, l.Resolve(LoadedClient(fastClient)))
	close(release)

	assert.Eventually(func() bool {
		got := rec.snapshot()
		// nil (discovery started), then the fast client; never the slow one
		if len(got) != 2 {
			return false
		}
		return got[0] == nil && got[1] == Client(fastClient)
	}, time.Second, 5*time.Millisecond)

	for _, c := range rec.snapshot() {
		assert.False(c == Client(slowClient))
	}
}

func TestLoaderDiscoveryError(t *testing.T) {
	assert := assert.New(t)

	rec := &publishRecorder{}
	l := NewLoader(rec.publish, nil)
	defer l.Close()

	errs := make(chan error, 1)
	l.OnError = func(err error) { errs <- err }

	d := LoadableConfig("down.example.com", func(ctx context.Context) (Client, error) {
		return nil, fmt.Errorf("metadata fetch failed")
	})
	require.NoError(t, l.Resolve(d))

	select {
	case err := <-errs:
		assert.ErrorContains(err, "metadata fetch failed")
	case <-time.After(time.Second):
		t.Fatal("discovery error not reported")
	}

	// only the clearing nil publish
	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Nil(got[0])
}
