package journal

import (
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrIdempotencyMismatch is returned when a key is reused with a different
	// request.
	ErrIdempotencyMismatch = errors.New("journal: idempotency key reused with a different request")
	// ErrIdempotencyInFlight is returned while another request holds the key.
	ErrIdempotencyInFlight = errors.New("journal: idempotency key in use by a request in flight")
)

// IdempotencyRecord stores the cached response for an idempotency key. A
// record with a zero StatusCode is a reservation held by a running request.
type IdempotencyRecord struct {
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"statusCode"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// InFlight reports whether the record is a reservation rather than a response.
func (r *IdempotencyRecord) InFlight() bool { return r.StatusCode == 0 }

func idempotencyKey(scope, key string) []byte {
	return []byte(scope + "\x00" + key)
}

func (j *Journal) decodeLive(raw []byte) (*IdempotencyRecord, error) {
	if raw == nil {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.IsZero() && !j.nowFn().Before(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

// ReserveIdempotency claims (scope, key) for one request in a single write
// transaction. It returns the stored response when the key already completed,
// or nil once the caller holds the reservation. A reservation lapses after
// lease so a crashed request does not pin the key.
func (j *Journal) ReserveIdempotency(scope, key, fingerprint string, lease time.Duration) (*IdempotencyRecord, error) {
	var record *IdempotencyRecord
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		k := idempotencyKey(scope, key)
		rec, err := j.decodeLive(bucket.Get(k))
		if err != nil {
			return err
		}
		if rec != nil {
			switch {
			case rec.Fingerprint != fingerprint:
				return ErrIdempotencyMismatch
			case rec.InFlight():
				return ErrIdempotencyInFlight
			}
			record = rec
			return nil
		}
		now := j.nowFn().UTC()
		encoded, err := json.Marshal(IdempotencyRecord{
			Fingerprint: fingerprint,
			StoredAt:    now,
			ExpiresAt:   now.Add(lease),
		})
		if err != nil {
			return err
		}
		return bucket.Put(k, encoded)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ReleaseIdempotency drops a reservation so the key can be retried. Completed
// responses are left alone.
func (j *Journal) ReleaseIdempotency(scope, key string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		k := idempotencyKey(scope, key)
		raw := bucket.Get(k)
		if raw == nil {
			return nil
		}
		var rec IdempotencyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if !rec.InFlight() {
			return nil
		}
		return bucket.Delete(k)
	})
}

// SaveIdempotency caches a response for ttl.
func (j *Journal) SaveIdempotency(scope, key, fingerprint string, status int, body []byte, ttl time.Duration) error {
	now := j.nowFn().UTC()
	rec := IdempotencyRecord{
		Fingerprint: fingerprint,
		StatusCode:  status,
		Body:        append([]byte(nil), body...),
		StoredAt:    now,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put(idempotencyKey(scope, key), encoded)
	})
}

// PruneIdempotency removes expired records and reports how many were dropped.
func (j *Journal) PruneIdempotency() (int, error) {
	now := j.nowFn()
	removed := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		var expired [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var rec IdempotencyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}
