// Package cache persists raw Hub'Eau record sets between runs so a re-run can
// skip the network.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

var (
	// ErrNotFound is returned by Get when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt is returned by Get when an entry exists but cannot be decoded.
	ErrCorrupt = errors.New("cache entry corrupt")
)

// MarkerPartial tags a staging entry written page by page during a live fetch.
const MarkerPartial = "partial"

// Key identifies a cached record set.
type Key struct {
	Source     domain.Source
	Kind       domain.ResourceKind
	Department string
	Marker     string
}

// Staging returns the staging key of a committed key.
func (k Key) Staging() Key {
	k.Marker = MarkerPartial
	return k
}

func (k Key) String() string {
	parts := []string{string(k.Source), string(k.Kind), k.Department}
	if k.Marker != "" {
		parts = append(parts, k.Marker)
	}
	return strings.Join(parts, ":")
}

// Entry is a cached record set. Records keep the service order.
type Entry struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Pages     int                `json:"pages"`
	Exhausted bool               `json:"exhausted"`
	Next      string             `json:"next,omitempty"`
	Records   []domain.RawRecord `json:"records"`
}

// Store persists entries. Implementations must never leave a partially
// overwritten entry behind.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, error)
	Put(ctx context.Context, key Key, entry Entry) error
	Invalidate(ctx context.Context, key Key) error
}

func encodeEntry(e Entry) ([]byte, error) {
	if e.Records == nil {
		e.Records = []domain.RawRecord{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return b, nil
}

func decodeEntry(b []byte) (Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var e Entry
	if err := dec.Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if e.Records == nil {
		return Entry{}, fmt.Errorf("%w: missing records", ErrCorrupt)
	}
	return e, nil
}

// IsMiss reports whether a Get error means the entry should be refetched.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}
