package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultRetryInterval = 30 * time.Second

// Status reports which stores the gateway can currently reach.
type Status struct {
	HasPrimary         bool `json:"hasPrimary"`
	IsPrimaryAvailable bool `json:"isPrimaryAvailable"`
	HasFallback        bool `json:"hasFallback"`
}

// Gateway writes to a primary (remote) store and falls back to a local one.
// A successful primary write is final; the fallback is only written when the
// primary is missing, marked down or fails. Once the primary fails it is
// skipped until the retry limiter grants a probe.
type Gateway struct {
	primary  Store
	fallback Store
	logger   *zap.Logger
	probe    *rate.Limiter

	mu        sync.Mutex
	available bool
}

type GatewayOption func(*Gateway)

// WithRetryInterval sets how often a failed primary is probed again.
func WithRetryInterval(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.probe = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway accepts a nil primary (local only). The fallback may be nil
// too, in which case writes fail whenever the primary does.
func NewGateway(primary, fallback Store, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		primary:   primary,
		fallback:  fallback,
		logger:    zap.NewNop(),
		probe:     rate.NewLimiter(rate.Every(DefaultRetryInterval), 1),
		available: primary != nil,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		HasPrimary:         g.primary != nil,
		IsPrimaryAvailable: g.primary != nil && g.available,
		HasFallback:        g.fallback != nil,
	}
}

func (g *Gateway) usePrimary() bool {
	if g.primary == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.available {
		return true
	}
	return g.probe.Allow()
}

func (g *Gateway) markPrimary(ok bool, op, key string, err error) {
	g.mu.Lock()
	was := g.available
	g.available = ok
	if !ok {
		// drain the burst so the next probe waits a full interval
		g.probe.Allow()
	}
	g.mu.Unlock()

	switch {
	case !ok && was:
		g.logger.Warn("primary store unavailable, using fallback",
			zap.String("op", op), zap.String("key", key), zap.Error(err))
	case ok && !was:
		g.logger.Info("primary store reachable again", zap.String("op", op), zap.String("key", key))
	}
}

// Save reports whether the primary store took the write. Writing to the
// fallback only is not an error.
func (g *Gateway) Save(ctx context.Context, key string, value []byte) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	var primaryErr error
	if g.usePrimary() {
		primaryErr = g.primary.Save(ctx, key, value)
		if primaryErr == nil {
			g.markPrimary(true, "save", key, nil)
			return true, nil
		}
		g.markPrimary(false, "save", key, primaryErr)
	}

	if g.fallback == nil {
		if primaryErr == nil {
			primaryErr = errors.New("primary store unavailable")
		}
		return false, fmt.Errorf("save %s: %w", key, primaryErr)
	}
	if err := g.fallback.Save(ctx, key, value); err != nil {
		return false, fmt.Errorf("save %s: %w", key, errors.Join(primaryErr, err))
	}
	return false, nil
}

// Load prefers the primary. A primary miss or failure falls through to the
// fallback; ErrNotFound is returned only when neither store has the key.
// When both stores hold the key the newer write wins, and a newer fallback
// copy is written back to the primary.
func (g *Gateway) Load(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	var primaryErr error
	if g.usePrimary() {
		data, err := g.primary.Load(ctx, key)
		switch {
		case err == nil:
			g.markPrimary(true, "load", key, nil)
			if newer, ok := g.newerFallback(ctx, key); ok {
				return newer, nil
			}
			return data, nil
		case errors.Is(err, ErrNotFound):
			g.markPrimary(true, "load", key, nil)
			primaryErr = err
		default:
			g.markPrimary(false, "load", key, err)
			primaryErr = err
		}
	}

	if g.fallback == nil {
		if primaryErr == nil {
			primaryErr = ErrNotFound
		}
		return nil, primaryErr
	}
	data, err := g.fallback.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) && (primaryErr == nil || errors.Is(primaryErr, ErrNotFound)) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", key, errors.Join(primaryErr, err))
	}
	return data, nil
}

// newerFallback returns the fallback copy of key when it was written after
// the primary copy. Stores without timestamps never win over the primary.
func (g *Gateway) newerFallback(ctx context.Context, key string) ([]byte, bool) {
	if g.fallback == nil {
		return nil, false
	}
	pts, ok := g.primary.(Timestamped)
	if !ok {
		return nil, false
	}
	fts, ok := g.fallback.(Timestamped)
	if !ok {
		return nil, false
	}
	localAt, err := fts.UpdatedAt(ctx, key)
	if err != nil {
		return nil, false
	}
	remoteAt, err := pts.UpdatedAt(ctx, key)
	if err != nil || !localAt.After(remoteAt) {
		return nil, false
	}
	data, err := g.fallback.Load(ctx, key)
	if err != nil {
		return nil, false
	}

	g.logger.Info("local copy is newer than remote, syncing",
		zap.String("key", key), zap.Time("local", localAt), zap.Time("remote", remoteAt))
	if err := g.primary.Save(ctx, key, data); err != nil {
		g.markPrimary(false, "sync", key, err)
	}
	return data, true
}

// Delete removes the key from every configured store.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	var errs []error
	if g.usePrimary() {
		err := g.primary.Delete(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			g.markPrimary(false, "delete", key, err)
			errs = append(errs, err)
		} else {
			g.markPrimary(true, "delete", key, nil)
		}
	}
	if g.fallback != nil {
		if err := g.fallback.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Probe checks the primary with a cheap load so a recovered store is picked
// up between writes. It ignores the retry limiter.
func (g *Gateway) Probe(ctx context.Context) bool {
	if g.primary == nil {
		return false
	}
	_, err := g.primary.Load(ctx, probeKey)
	ok := err == nil || errors.Is(err, ErrNotFound)
	g.markPrimary(ok, "probe", probeKey, err)
	return ok
}

const probeKey = "state"
