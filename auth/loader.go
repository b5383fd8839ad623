package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ClientDescriptor is a tagged variant describing how to obtain a client
// capability: an already-constructed client, a synchronously-buildable
// configuration, or an asynchronously-discovered one.
type ClientDescriptor struct {
	key   string
	ready Client
	build func() (Client, error)
	load  func(ctx context.Context) (Client, error)
}

// LoadedClient adopts an already-constructed capability.
func LoadedClient(c Client) ClientDescriptor {
	return ClientDescriptor{key: fmt.Sprintf("loaded/%p", c), ready: c}
}

// StaticConfig constructs the capability synchronously. The key identifies the
// descriptor: resolving the same key twice is a no-op.
func StaticConfig(key string, build func() (Client, error)) ClientDescriptor {
	return ClientDescriptor{key: "static/" + key, build: build}
}

// LoadableConfig discovers the capability asynchronously (eg, fetching a
// client metadata document). The load func must honor context cancellation.
func LoadableConfig(key string, load func(ctx context.Context) (Client, error)) ClientDescriptor {
	return ClientDescriptor{key: "loadable/" + key, load: load}
}

func (d ClientDescriptor) Key() string {
	return d.key
}

// Loader resolves client descriptors into client capabilities and publishes
// them to a sink (normally Controller.SetClient). At most one asynchronous
// discovery is in flight; a newer descriptor cancels the outstanding one and
// its result, success or failure, is dropped.
type Loader struct {
	// Publish receives each resolved capability. A nil publish means the
	// client capability was cleared while a discovery runs.
	Publish func(Client)

	// OnError receives asynchronous discovery failures. Optional; failures
	// are logged either way.
	OnError func(error)

	log *slog.Logger

	mu     sync.Mutex
	key    string
	cancel context.CancelFunc
}

func NewLoader(publish func(Client), logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		Publish: publish,
		log:     logger.With("system", "authloader"),
	}
}

// Resolve dispatches on the descriptor variant. Synchronous construction
// failures are returned to the caller; asynchronous failures go to OnError
// unless the discovery was superseded, in which case they are dropped.
func (l *Loader) Resolve(d ClientDescriptor) error {
	l.mu.Lock()
	if d.key != "" && d.key == l.key {
		// unchanged descriptor
		l.mu.Unlock()
		return nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.key = d.key

	switch {
	case d.ready != nil:
		l.mu.Unlock()
		l.Publish(d.ready)
		return nil

	case d.build != nil:
		l.mu.Unlock()
		c, err := d.build()
		if err != nil {
			return fmt.Errorf("constructing auth client: %w", err)
		}
		l.Publish(c)
		return nil

	case d.load != nil:
		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		l.mu.Unlock()

		// clear any previous capability while discovery runs
		l.Publish(nil)

		go l.discover(ctx, d)
		return nil

	default:
		l.mu.Unlock()
		return fmt.Errorf("empty client descriptor")
	}
}

func (l *Loader) discover(ctx context.Context, d ClientDescriptor) {
	c, err := d.load(ctx)

	l.mu.Lock()
	stale := l.key != d.key || ctx.Err() != nil
	l.mu.Unlock()
	if stale {
		// superseded by a newer descriptor; drop the result unconditionally
		l.log.Debug("discarding superseded client discovery", "key", d.key)
		return
	}

	if err != nil {
		l.log.Warn("client discovery failed", "key", d.key, "err", err)
		if l.OnError != nil {
			l.OnError(err)
		}
		return
	}
	l.Publish(c)
}

// Close cancels any outstanding discovery.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.key = ""
}
