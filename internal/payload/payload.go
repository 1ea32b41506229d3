package payload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("payload not found")

// Payload is a raw response body stored once per distinct content. Identical
// bodies share a row; RefCount counts how many captures point at it.
type Payload struct {
	Hash      string    `json:"hash"`
	Body      []byte    `json:"-"`
	Size      int64     `json:"size"`
	RefCount  int64     `json:"refCount"`
	FirstSeen time.Time `json:"firstSeen"`
}

type Stats struct {
	Count      int64 `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
	TotalRefs  int64 `json:"totalRefs"`
}

type Store interface {
	// Put stores body under its content hash. When the hash already exists
	// the body is not written again, the reference count is bumped, and
	// created is false.
	Put(ctx context.Context, body []byte) (hash string, created bool, err error)
	Get(ctx context.Context, hash string) (*Payload, error)
	Stats(ctx context.Context) (Stats, error)
}

func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
