package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	domain "github.com/franklinbaldo/baliza-sub001/internal/payload"
)

var (
	bucketBodies = []byte("bodies")
	bucketMeta   = []byte("meta")
)

type boltMeta struct {
	Size      int64     `json:"size"`
	RefCount  int64     `json:"refCount"`
	FirstSeen time.Time `json:"firstSeen"`
}

// BoltStore keeps payload bodies out of the relational file. Bodies and
// their metadata live in separate buckets keyed by content hash.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open payload store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBodies, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create payload buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Put(ctx context.Context, body []byte) (string, bool, error) {
	hash := domain.Hash(body)
	key := []byte(hash)

	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)

		var m boltMeta
		raw := meta.Get(key)
		if raw == nil {
			m = boltMeta{Size: int64(len(body)), RefCount: 1, FirstSeen: time.Now().UTC()}
			if err := tx.Bucket(bucketBodies).Put(key, body); err != nil {
				return err
			}
			created = true
		} else {
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("decode payload meta: %w", err)
			}
			m.RefCount++
		}

		encoded, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return meta.Put(key, encoded)
	})
	if err != nil {
		return "", false, fmt.Errorf("put payload: %w", err)
	}
	return hash, created, nil
}

func (s *BoltStore) Get(ctx context.Context, hash string) (*domain.Payload, error) {
	p := &domain.Payload{Hash: hash}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(hash))
		if raw == nil {
			return domain.ErrNotFound
		}
		var m boltMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode payload meta: %w", err)
		}
		p.Size = m.Size
		p.RefCount = m.RefCount
		p.FirstSeen = m.FirstSeen

		// Bucket memory is only valid inside the transaction.
		body := tx.Bucket(bucketBodies).Get([]byte(hash))
		p.Body = append([]byte(nil), body...)
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}
	return p, nil
}

func (s *BoltStore) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, raw []byte) error {
			var m boltMeta
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("decode payload meta: %w", err)
			}
			stats.Count++
			stats.TotalBytes += m.Size
			stats.TotalRefs += m.RefCount
			return nil
		})
	})
	if err != nil {
		return domain.Stats{}, fmt.Errorf("payload stats: %w", err)
	}
	return stats, nil
}
