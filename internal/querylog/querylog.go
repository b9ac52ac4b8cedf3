// Package querylog keeps a bounded in-memory history of resolved queries
// and optionally persists it to a bbolt database so a restart doesn't lose
// recent history.
package querylog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Entry is one resolved query, the shape recorded for both the live ring
// buffer and (if configured) the on-disk store.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Qname     string    `json:"qname"`
	Qtype     string    `json:"qtype"`
	Source    string    `json:"source"`
	Server    string    `json:"server"`
	Tag       string    `json:"tag"`
	Code      string    `json:"code"`
	Latency   float64   `json:"latency_ms"`
	Retries   int       `json:"retries"`
}

// Log is a thread-safe ring buffer of recent query entries, with live
// subscriber fan-out for streaming consumers.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int

	subMu  sync.RWMutex
	subs   map[int]chan Entry
	nextID int
}

// New creates a query log with the given ring buffer capacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		subs:     make(map[int]chan Entry),
	}
}

// Add appends an entry to the ring buffer and notifies all subscribers.
func (l *Log) Add(entry Entry) {
	l.mu.Lock()
	l.entries[l.head] = entry
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}
	l.mu.Unlock()

	l.subMu.RLock()
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
			// drop if the subscriber isn't keeping up
		}
	}
	l.subMu.RUnlock()
}

// Recent returns the n most recent entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + l.capacity) % l.capacity
		out[i] = l.entries[idx]
	}
	return out
}

// Subscribe returns a channel that receives every entry added from now on.
func (l *Log) Subscribe(bufSize int) (int, chan Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextID
	l.nextID++
	ch := make(chan Entry, bufSize)
	l.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (l *Log) Unsubscribe(id int) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if ch, ok := l.subs[id]; ok {
		close(ch)
		delete(l.subs, id)
	}
}

// Count returns the number of entries currently held.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

var entriesBucket = []byte("entries")

// Store persists query log entries to a bbolt database, append-only with
// an autoincrementing key. It's a separate concern from Log: Log is the
// live in-memory view a frontend reads from; Store is opt-in durable
// history for later inspection.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if necessary) a bbolt-backed query log store.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("querylog: open %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("querylog: init %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes entry under the next sequence number in the bucket.
func (s *Store) Append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("querylog: marshal entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Tail returns up to n of the most recently appended entries, newest first.
func (s *Store) Tail(n int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("querylog: unmarshal entry: %w", err)
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v & 0xff)
		v >>= 8
	}
	return b
}
