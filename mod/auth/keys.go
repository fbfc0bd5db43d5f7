package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"

	"go.edgegate.dev/edgegate/mod/clock"
)

const keysBucket = "keys"

// KeyRecord is the durable, non-secret representation of an opaque API
// key: only its hash is ever stored, per spec.md §3's key store contract.
type KeyRecord struct {
	KeyID      string    `json:"key_id"`
	Hash       string    `json:"hash"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Active     bool      `json:"active"`
}

var (
	ErrKeyNotFound = errors.New("auth: key not found")
)

// KeyStore is a read-mostly in-memory cache of opaque API keys, backed by
// a boltdb file for durability. Lookups are served from memory, though a
// successful Validate also persists the key's last_used_at; writes (create,
// revoke, delete) take an exclusive lock and commit before returning.
type KeyStore struct {
	db    *bolt.DB
	clock clock.Clock

	mu     sync.RWMutex
	byID   map[string]*KeyRecord
	byHash map[string]string // hash -> key id
}

// OpenKeyStore loads (or creates) the key store file and warms the cache.
func OpenKeyStore(path string, clk clock.Clock) (*KeyStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	ks := &KeyStore{
		db:     db,
		clock:  clk,
		byID:   make(map[string]*KeyRecord),
		byHash: make(map[string]string),
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(keysBucket))
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var rec KeyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupt record rather than fail startup
			}
			ks.byID[rec.KeyID] = &rec
			ks.byHash[rec.Hash] = rec.KeyID
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return ks, nil
}

func hashKey(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return hex.EncodeToString(sum[:])
}

// Create generates a new opaque key, persists its hash, and returns the
// plaintext key exactly once. The caller must show it to the operator
// immediately; it cannot be recovered afterward.
func (s *KeyStore) Create(name string) (record *KeyRecord, plaintext string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", err
	}
	plaintext = hex.EncodeToString(buf)

	rec := &KeyRecord{
		KeyID:     uuid.NewString(),
		Hash:      hashKey(plaintext),
		Name:      name,
		CreatedAt: s.clock.Now(),
		Active:    true,
	}

	if err := s.persist(rec); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.byID[rec.KeyID] = rec
	s.byHash[rec.Hash] = rec.KeyID
	s.mu.Unlock()

	return rec, plaintext, nil
}

func (s *KeyStore) persist(rec *KeyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		return b.Put([]byte(rec.KeyID), raw)
	})
}

// Validate looks up the hash of the presented opaque key and returns its
// record if the key is known and active. On success, last_used_at is
// updated best-effort (a failure to persist the touch is not surfaced).
func (s *KeyStore) Validate(opaque string) (*KeyRecord, bool) {
	h := hashKey(opaque)

	s.mu.RLock()
	id, ok := s.byHash[h]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	rec := s.byID[id]
	s.mu.RUnlock()

	if rec == nil || !rec.Active {
		return nil, false
	}

	s.touch(rec)
	return rec, true
}

func (s *KeyStore) touch(rec *KeyRecord) {
	s.mu.Lock()
	rec.LastUsedAt = s.clock.Now()
	updated := *rec
	s.mu.Unlock()

	// Best effort: a failed touch write does not invalidate the key.
	_ = s.persist(&updated)
}

// List returns key metadata (never the secret) for the admin surface.
func (s *KeyStore) List() []*KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*KeyRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		copyRec := *rec
		out = append(out, &copyRec)
	}
	return out
}

// Revoke sets active=false on keyID without deleting its record.
func (s *KeyStore) Revoke(keyID string) error {
	s.mu.Lock()
	rec, ok := s.byID[keyID]
	if !ok {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	rec.Active = false
	updated := *rec
	s.mu.Unlock()

	return s.persist(&updated)
}

// Delete removes keyID entirely.
func (s *KeyStore) Delete(keyID string) error {
	s.mu.Lock()
	rec, ok := s.byID[keyID]
	if !ok {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	delete(s.byID, keyID)
	delete(s.byHash, rec.Hash)
	s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		return b.Delete([]byte(keyID))
	})
}

// Close closes the underlying boltdb file.
func (s *KeyStore) Close() error {
	return s.db.Close()
}
