// Package bbolt provides a BoltDB-backed telemetry journal.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lenslabs/chordfield/internal/storage"
	"go.etcd.io/bbolt"
)

const telemetryBucket = "telemetry"

// Store provides a BoltDB-backed telemetry store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(telemetryBucket)); err != nil {
			return fmt.Errorf("create telemetry bucket: %w", err)
		}
		return nil
	})
}

// AppendTelemetryEvent persists a telemetry event keyed by session and
// append sequence.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(telemetryBucket))
		if bucket == nil {
			return fmt.Errorf("telemetry bucket is missing")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next telemetry sequence: %w", err)
		}
		return bucket.Put(telemetryKey(evt.SessionID, seq), payload)
	})
}

// ListTelemetryEvents returns all telemetry events for a session in append
// order.
func (s *Store) ListTelemetryEvents(ctx context.Context, sessionID string) ([]storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	prefix := []byte(sessionID + "/")
	var events []storage.TelemetryEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(telemetryBucket))
		if bucket == nil {
			return fmt.Errorf("telemetry bucket is missing")
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = cursor.Next() {
			var evt storage.TelemetryEvent
			if err := json.Unmarshal(v, &evt); err != nil {
				return fmt.Errorf("unmarshal telemetry event: %w", err)
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LatestTelemetryEvent returns the most recently appended event for a
// session. It returns storage.ErrNotFound when the session has no events.
func (s *Store) LatestTelemetryEvent(ctx context.Context, sessionID string) (storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return storage.TelemetryEvent{}, err
	}
	if s == nil || s.db == nil {
		return storage.TelemetryEvent{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return storage.TelemetryEvent{}, fmt.Errorf("session id is required")
	}

	prefix := []byte(sessionID + "/")
	var evt storage.TelemetryEvent
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(telemetryBucket))
		if bucket == nil {
			return fmt.Errorf("telemetry bucket is missing")
		}
		cursor := bucket.Cursor()
		var latest []byte
		for k, v := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = cursor.Next() {
			latest = v
		}
		if latest == nil {
			return nil
		}
		if err := json.Unmarshal(latest, &evt); err != nil {
			return fmt.Errorf("unmarshal telemetry event: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return storage.TelemetryEvent{}, err
	}
	if !found {
		return storage.TelemetryEvent{}, fmt.Errorf("session %s telemetry: %w", sessionID, storage.ErrNotFound)
	}
	return evt, nil
}

// telemetryKey orders events within a session by append sequence. The
// big-endian sequence keeps byte order equal to append order.
func telemetryKey(sessionID string, seq uint64) []byte {
	key := make([]byte, 0, len(sessionID)+1+8)
	key = append(key, sessionID...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}
