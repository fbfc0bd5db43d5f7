// Package audit is edgegate's durable, mostly-append event log: every
// request and every admin action is recorded through a single writer
// goroutine feeding a boltdb/bolt file, grounded on the teacher's
// dbbolt bucket-per-table pattern. Reads run concurrently with the
// writer via bbolt's MVCC snapshots.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boltdb/bolt"
	"github.com/microcosm-cc/bluemonday"

	edgeclock "go.edgegate.dev/edgegate/mod/clock"
)

// Kind distinguishes the two AuditEvent variants spec.md §3 describes.
type Kind string

const (
	KindRequest Kind = "request"
	KindAdmin   Kind = "admin-action"
)

// Event is the tagged union of RequestEvent and AdminEvent. Only the
// fields relevant to Kind are populated; the rest are the zero value.
type Event struct {
	ID         uint64    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ClientIP   string    `json:"client_ip"`
	Kind       Kind      `json:"kind"`
	UserAgent  string    `json:"user_agent"`

	// RequestEvent fields
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	Status     int    `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// AdminEvent fields
	ActionName  string `json:"action_name,omitempty"`
	DetailsBlob string `json:"details_blob,omitempty"`
}

// Filters narrows a Query call.
type Filters struct {
	Kind     Kind
	ClientIP string
	Since    time.Time
	Until    time.Time
}

func (f Filters) matches(e Event) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.ClientIP != "" && e.ClientIP != f.ClientIP {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// IPCount is one row of the top-IPs aggregate.
type IPCount struct {
	IP    string
	Count int
}

// Stats is the §4.9 aggregate shape.
type Stats struct {
	CountsByKind   map[Kind]int
	CountsByStatus map[int]int
	TopIPs         []IPCount
}

const (
	eventsBucket    = "events"
	maxBatchSize    = 100
	batchInterval   = 100 * time.Millisecond
	writeQueueDepth = 4096
)

var ErrClosed = errors.New("audit: store is closed")

// Store is the durable event log. Exactly one writer goroutine owns the
// boltdb file; Append is non-blocking and drops events on a full queue
// rather than stalling the caller.
type Store struct {
	db        *bolt.DB
	clock     edgeclock.Clock
	sanitizer *bluemonday.Policy

	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
}

// Open creates or attaches to a boltdb file at path and starts the
// writer goroutine.
func Open(path string, clk edgeclock.Clock) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		clock:     clk,
		sanitizer: bluemonday.StrictPolicy(),
		queue:     make(chan Event, writeQueueDepth),
		done:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writerLoop()

	return s, nil
}

// Append enqueues an event for durable storage. It never blocks the
// caller: a full queue increments the dropped counter and returns
// immediately, per spec.md §4.9's best-effort durability contract.
func (s *Store) Append(e Event) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	if e.Kind == KindAdmin {
		e.DetailsBlob = s.sanitizer.Sanitize(e.DetailsBlob)
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events have been discarded due to queue
// overflow or a closed store.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Store) writerLoop() {
	defer s.wg.Done()

	batch := make([]Event, 0, maxBatchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.commit(batch); err != nil {
			s.dropped.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= maxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
					if len(batch) >= maxBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Store) commit(batch []Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		for i := range batch {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			batch[i].ID = id
			if batch[i].Timestamp.IsZero() {
				batch[i].Timestamp = s.clock.Now()
			}
			raw, err := json.Marshal(batch[i])
			if err != nil {
				return err
			}
			if err := b.Put(idKey(id), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func idKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// Query returns matching events ordered by row id descending
// (newest first), applying offset then limit.
func (s *Store) Query(f Filters, limit, offset int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var out []Event
	skipped := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if !f.matches(e) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Stats aggregates events with a timestamp within the last window.
func (s *Store) Stats(window time.Duration) (Stats, error) {
	cutoff := s.clock.Now().Add(-window)
	stats := Stats{
		CountsByKind:   make(map[Kind]int),
		CountsByStatus: make(map[int]int),
	}
	ipCounts := make(map[string]int)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Timestamp.Before(cutoff) {
				break // events are stored in id order, which tracks time
			}
			stats.CountsByKind[e.Kind]++
			if e.Kind == KindRequest {
				stats.CountsByStatus[e.Status]++
			}
			ipCounts[e.ClientIP]++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for ip, count := range ipCounts {
		stats.TopIPs = append(stats.TopIPs, IPCount{IP: ip, Count: count})
	}
	sort.Slice(stats.TopIPs, func(i, j int) bool {
		return stats.TopIPs[i].Count > stats.TopIPs[j].Count
	})
	if len(stats.TopIPs) > 10 {
		stats.TopIPs = stats.TopIPs[:10]
	}

	return stats, nil
}

// Close drains the write queue and closes the underlying file. It
// blocks until the writer goroutine has committed everything already
// enqueued.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
