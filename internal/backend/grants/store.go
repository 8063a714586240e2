// Package grants keeps short-lived write permissions that let the capture
// activity fill exactly one provider reference.
package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/imagecapture/internal/provider"
)

var ErrGrantNotFound = errors.New("grant not found or expired")

// Grant is a token that temporarily authorizes writes to Ref.
type Grant struct {
	Token     string
	Ref       provider.ImageReference
	ExpiresAt time.Time
}

type Store interface {
	Issue(ctx context.Context, ref provider.ImageReference, ttl time.Duration) (Grant, error)
	Lookup(ctx context.Context, token string) (provider.ImageReference, error)
	Revoke(ctx context.Context, token string) error
	// Ping reports whether the store can be reached.
	Ping(ctx context.Context) error
	Close() error
}

// Options configure the store returned by NewStore.
type Options struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

func NewStore(storeType string, options Options) (Store, error) {
	switch storeType {
	case "", "memory":
		return NewMemoryStore(time.Now), nil
	case "redis":
		return NewRedisStore(options)
	default:
		return nil, fmt.Errorf("unsupported grant store: %s", storeType)
	}
}

func newToken() string {
	return uuid.NewString()
}
