// Package journal persists committed escrow events and idempotent API
// responses in a bbolt database.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"p2pescrow/core/events"
)

var (
	bucketEvents      = []byte("events")
	bucketIdempotency = []byte("idempotency")

	// ErrClosed is returned once the journal has been closed.
	ErrClosed = errors.New("journal: closed")
)

// Entry is one committed event with its position in the journal.
type Entry struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OrderID    uint64            `json:"orderId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Journal appends events in emission order and fans them out to live
// subscribers. It implements events.Emitter.
type Journal struct {
	db     *bolt.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu     sync.Mutex
	subs   map[int]chan Entry
	nextID int
	closed bool
}

// Open initialises (and migrates) the journal at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketIdempotency} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		db:     db,
		logger: logger,
		nowFn:  time.Now,
		subs:   make(map[int]chan Entry),
	}, nil
}

// Close releases the database and ends every subscription.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		for id, ch := range j.subs {
			close(ch)
			delete(j.subs, id)
		}
	}
	j.mu.Unlock()
	return j.db.Close()
}

// SetNowFunc overrides the clock. Primarily used in tests.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now != nil {
		j.nowFn = now
	}
}

func seqKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

// Emit implements events.Emitter. Failures are logged; the event has already
// been committed by the engine.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(evt); err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns the recorded entry.
func (j *Journal) Append(evt events.Event) (Entry, error) {
	entry := Entry{
		ID:         uuid.NewString(),
		Type:       evt.EventType(),
		Attributes: map[string]string{},
		RecordedAt: j.nowFn().UTC(),
	}
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			entry.Attributes = rendered.Attributes
		}
	}
	if scoped, ok := evt.(events.OrderEvent); ok {
		entry.OrderID = scoped.OrderRef()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return Entry{}, ErrClosed
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), encoded)
	})
	if err != nil {
		return Entry{}, err
	}
	for id, ch := range j.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscribers are dropped; they can resume from the journal.
			close(ch)
			delete(j.subs, id)
		}
	}
	return entry, nil
}

// List returns up to limit entries with a sequence greater than after.
func (j *Journal) List(after uint64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	out := make([]Entry, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(after + 1)); k != nil && len(out) < limit; k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// Subscribe returns a channel receiving every entry appended after the call
// and a function releasing the subscription. The channel is closed when the
// subscriber falls behind by more than buffer entries, when ctx ends, or when
// the journal closes.
func (j *Journal) Subscribe(ctx context.Context, buffer int) (<-chan Entry, func(), error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil, nil, ErrClosed
	}
	id := j.nextID
	j.nextID++
	j.subs[id] = ch
	j.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			j.mu.Lock()
			if existing, ok := j.subs[id]; ok {
				close(existing)
				delete(j.subs, id)
			}
			j.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

var _ events.Emitter = (*Journal)(nil)
