package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/store"
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	breakerHalfOpenRequests = 1
)

// breakerStore sheds calls to a remote backend after consecutive failures
// so a dead database or an exhausted Sheets quota fails requests fast.
type breakerStore struct {
	next store.RecordStore
	cb   *gobreaker.CircuitBreaker
}

func withBreaker(name string, next store.RecordStore, log *logger.Logger) *breakerStore {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: callerFault,
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := log.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			log.Warn(ctx, "record store breaker state changed")
		},
	}
	return &breakerStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// callerFault reports errors that say nothing about backend health.
func callerFault(err error) bool {
	return err == nil ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrTableNotFound) ||
		errors.Is(err, store.ErrInvalidRecord) ||
		errors.Is(err, context.Canceled)
}

func (b *breakerStore) Append(ctx context.Context, table string, rec store.Record) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.Append(ctx, table, rec)
	})
	return err
}

func (b *breakerStore) Scan(ctx context.Context, table string) ([]store.Row, error) {
	out, err := b.execute(func() (any, error) {
		return b.next.Scan(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]store.Row)
	return rows, nil
}

func (b *breakerStore) Headers(ctx context.Context, table string) ([]string, error) {
	out, err := b.execute(func() (any, error) {
		return b.next.Headers(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	headers, _ := out.([]string)
	return headers, nil
}

func (b *breakerStore) UpdateField(ctx context.Context, table string, key string, field string, value string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.UpdateField(ctx, table, key, field, value)
	})
	return err
}

func (b *breakerStore) execute(fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrUnavailable, b.cb.Name(), err)
	}
	return out, err
}
