// Package audit is a write-once, hash-chained record of terminal workflow
// outcomes, backed by BoltDB. Agent dispatch and result events are not
// recorded here. This is
// explicitly NOT resumable workflow state: a process restart loses every
// in-flight Instance; only the completed/failed record survives, for
// post-hoc inspection and replay-adjacent debugging.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketOutcomes = []byte("workflow_outcomes")

// Entry is one immutable audit record, chained to the previous entry's hash
// so a tampered or truncated record breaks verification.
type Entry struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowType string    `json:"workflow_type"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	PrevHash     string    `json:"prev_hash"`
	Hash         string    `json:"hash"`
}

// Store appends outcome entries to a BoltDB-backed chain. All writes are
// serialized under mu; BoltDB's own single-writer transaction model would
// enforce this anyway, but holding the chain's "previous hash" state in
// memory requires the same lock.
type Store struct {
	db   *bbolt.DB
	mu   sync.Mutex
	last Entry
	has  bool
}

// Open opens (creating if absent) the BoltDB file at path and primes the
// chain's last-hash from the most recent persisted entry.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOutcomes)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit bucket: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadLast(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadLast() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutcomes)
		cursor := b.Cursor()
		k, v := cursor.Last()
		if k == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		s.last = e
		s.has = true
		return nil
	})
}

func (s *Store) Close() error { return s.db.Close() }

// RecordOutcome appends a terminal workflow outcome.
func (s *Store) RecordOutcome(workflowID, workflowType, status, errMessage string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint64
	prevHash := ""
	if s.has {
		idx = s.last.Index + 1
		prevHash = s.last.Hash
	}

	entry := Entry{
		Index:        idx,
		Timestamp:    time.Now().UTC(),
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		Status:       status,
		ErrorMessage: errMessage,
		PrevHash:     prevHash,
	}
	entry.Hash = hashEntry(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, idx)

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutcomes).Put(key, data)
	}); err != nil {
		return Entry{}, fmt.Errorf("persist audit entry: %w", err)
	}

	s.last = entry
	s.has = true
	return entry, nil
}

// Verify walks the whole chain and confirms every hash and prev_hash link,
// detecting any tampered or truncated entry.
func (s *Store) Verify() (bool, error) {
	var ok = true
	var prevHash string
	var havePrev bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutcomes).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if hashEntry(e) != e.Hash {
				ok = false
			}
			if havePrev && e.PrevHash != prevHash {
				ok = false
			}
			prevHash = e.Hash
			havePrev = true
			return nil
		})
	})
	return ok, err
}

func hashEntry(e Entry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.WorkflowID))
	h.Write([]byte(e.WorkflowType))
	h.Write([]byte(e.Status))
	h.Write([]byte(e.ErrorMessage))
	return hex.EncodeToString(h.Sum(nil))
}
