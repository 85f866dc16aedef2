package storage

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// FacadeOptions controls how NewFacade picks and wraps a backend.
type FacadeOptions struct {
	// Primary is the preferred backend (redis/postgres/mongo), already
	// initialized or initializable via Initialize.
	Primary Backend
	// FileFallback is used when Primary fails to initialize or its
	// Health check starts failing, unless StrictMode is set.
	FileFallback Backend
	// StrictMode fails NewFacade outright instead of degrading to
	// FileFallback when Primary is unreachable.
	StrictMode bool
}

// Facade is the storage facade: it owns exactly one active
// Backend at a time (Primary, or FileFallback if Primary is
// unreachable and StrictMode is off) and exposes the same Backend
// contract so callers never know which one is live.
type Facade struct {
	Backend
	usingFallback bool
}

// NewFacade picks Primary if it initializes and passes a health check;
// otherwise, in non-strict mode, it falls back to FileFallback, and in
// strict mode it fails construction instead of degrading silently.
func NewFacade(ctx context.Context, opts FacadeOptions) (*Facade, error) {
	if opts.Primary != nil {
		if err := opts.Primary.Initialize(ctx); err == nil {
			if err := opts.Primary.Health(ctx); err == nil {
				return &Facade{Backend: opts.Primary}, nil
			} else {
				log.WithError(err).Warn("storage: primary backend failed health check")
			}
		} else {
			log.WithError(err).Warn("storage: primary backend failed to initialize")
		}
	}
	if opts.StrictMode {
		return nil, fmt.Errorf("storage: primary backend unavailable and strict mode is enabled")
	}
	if opts.FileFallback == nil {
		return nil, fmt.Errorf("storage: primary backend unavailable and no file fallback configured")
	}
	if err := opts.FileFallback.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("storage: file fallback failed to initialize: %w", err)
	}
	log.Warn("storage: degraded to file-backed fallback store")
	return &Facade{Backend: opts.FileFallback, usingFallback: true}, nil
}

// UsingFallback reports whether the facade degraded to the file
// backend at construction time.
func (f *Facade) UsingFallback() bool { return f.usingFallback }

// AsFacade returns b as a Facade, wrapping it if it isn't one already.
// Used to get the facade's atomic token/counter operations over an
// already-initialized backend (the plain file backend, or a backend
// wrapped in instrumentation).
func AsFacade(b Backend) *Facade {
	if f, ok := b.(*Facade); ok {
		return f
	}
	return &Facade{Backend: b}
}
