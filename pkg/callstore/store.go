// Package callstore holds per-call metadata shared between the media bridge
// sessions and the webhook lifecycle machine. Values are either records
// (map[string]any), lists ([]any) or scalars, and writes merge rather than
// replace:
//
//   - no existing entry            -> create
//   - record over record           -> field-wise union, new fields win
//   - any value over a list        -> append
//   - anything else                -> replace
//
// Both backends apply the same rule and never alias caller-held values.
// Entries expire after about an hour so abandoned calls cannot accumulate.
package callstore

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds the lifetime of a store entry. Calls longer than this
// are not a supported case.
const DefaultTTL = time.Hour

// ErrUnavailable wraps backend failures so callers can treat them uniformly.
var ErrUnavailable = errors.New("call state store unavailable")

// Store is the shared call state contract. Get returns (nil, nil) when the
// key is absent. Set applies the package merge rule atomically per key.
type Store interface {
	Get(ctx context.Context, id string) (any, error)
	Set(ctx context.Context, id string, value any) error
	Delete(ctx context.Context, id string) error
	Size(ctx context.Context) (int64, error)
}
