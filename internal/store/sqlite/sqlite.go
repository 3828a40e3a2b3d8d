// Package sqlite is an optional persistence-backed MessageStore /
// SessionStore, grounded on the teacher's `cmd/goqtt/main.go` sqlite
// wiring. It realizes spec.md's Non-goals "pluggable key-value interface"
// as a single `(bucket, key) -> blob` table (SPEC_FULL.md §3
// PersistedRecord) with two buckets, messages and retained, so a broker
// restart does not lose stored and retained messages the way the pure
// in-memory store would. Sessions are not persisted.
package sqlite

import (
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/internal/packet"
	"github.com/riftmq/broker/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	bucket TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
);
`

const (
	bucketMessages = "messages"
	bucketRetained = "retained"
)

// Store wraps an in-memory store.MemoryStore (which continues to own the
// live ClientSession and StoredMessage object graph) and a *sql.DB used
// purely as a write-behind log for messages and retained pointers, so a
// restarted process can reload what survived.
type Store struct {
	db     *sql.DB
	memory *store.MemoryStore
}

// Open opens (creating if needed) the sqlite database at path, wraps it
// around a fresh in-memory store, and hydrates that store from whatever
// messages and retained pointers survived a previous run, so stored and
// retained messages survive a broker restart (SPEC_FULL.md §6); sessions
// start empty.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, memory: store.NewMemoryStore()}
	if err := s.hydrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// hydrate reloads the messages and retained buckets into the wrapped
// MemoryStore. Messages are loaded first so every retained pointer
// resolves by the time it is restored.
func (s *Store) hydrate() error {
	rows, err := s.db.Query(`SELECT value FROM kv WHERE bucket = ?`, bucketMessages)
	if err != nil {
		return err
	}
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			rows.Close()
			return err
		}
		var pm persistedMessage
		if json.Unmarshal(value, &pm) != nil {
			continue
		}
		s.memory.RestoreMessage(&broker.StoredMessage{
			GUID:     pm.GUID,
			ClientID: pm.ClientID,
			Topic:    pm.Topic,
			Payload:  pm.Payload,
			QoS:      packet.QoSLevel(pm.QoS),
			Retained: pm.Retained,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT key, value FROM kv WHERE bucket = ?`, bucketRetained)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var topic string
		var guid []byte
		if err := rows.Scan(&topic, &guid); err != nil {
			return err
		}
		s.memory.RestoreRetained(topic, string(guid))
	}
	return rows.Err()
}

// Close releases the underlying sqlite handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type persistedMessage struct {
	GUID     string `json:"guid"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	Payload  []byte `json:"payload"`
	QoS      uint8  `json:"qos"`
	Retained bool   `json:"retained"`
}

func toPersisted(msg *broker.StoredMessage) persistedMessage {
	return persistedMessage{
		GUID:     msg.GUID,
		ClientID: msg.ClientID,
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		QoS:      uint8(msg.QoS),
		Retained: msg.Retained,
	}
}

func (s *Store) put(bucket, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value,
	)
	return err
}

func (s *Store) delete(bucket, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key)
	return err
}

// StorePublishForFuture persists msg in memory, then writes it to the
// messages bucket so it survives a restart.
func (s *Store) StorePublishForFuture(msg *broker.StoredMessage) (string, error) {
	guid, err := s.memory.StorePublishForFuture(msg)
	if err != nil {
		return "", err
	}
	stamped := msg.Clone()
	stamped.GUID = guid
	blob, err := json.Marshal(toPersisted(stamped))
	if err != nil {
		return guid, nil
	}
	_ = s.put(bucketMessages, guid, blob)
	return guid, nil
}

// StoreRetained mirrors the retained pointer into the retained bucket.
func (s *Store) StoreRetained(topic, guid string) error {
	if err := s.memory.StoreRetained(topic, guid); err != nil {
		return err
	}
	return s.put(bucketRetained, topic, []byte(guid))
}

// CleanRetained removes the retained pointer from both layers.
func (s *Store) CleanRetained(topic string) error {
	if err := s.memory.CleanRetained(topic); err != nil {
		return err
	}
	return s.delete(bucketRetained, topic)
}

// SearchMatching delegates to the in-memory index (spec.md §4.2: "the
// contract does not mandate indexing").
func (s *Store) SearchMatching(predicate func(topic string) bool) ([]*broker.StoredMessage, error) {
	return s.memory.SearchMatching(predicate)
}

// DropMessagesInSession drops in-memory entries and their sqlite rows,
// keeping messages that a retained pointer still references.
func (s *Store) DropMessagesInSession(clientID string) error {
	rows, err := s.db.Query(
		`SELECT key, value FROM kv WHERE bucket = ?
		 AND key NOT IN (SELECT CAST(value AS TEXT) FROM kv WHERE bucket = ?)`,
		bucketMessages, bucketRetained,
	)
	if err != nil {
		return err
	}
	var toDrop []string
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		var pm persistedMessage
		if json.Unmarshal(value, &pm) == nil && pm.ClientID == clientID {
			toDrop = append(toDrop, key)
		}
	}
	rows.Close()

	if err := s.memory.DropMessagesInSession(clientID); err != nil {
		return err
	}
	for _, key := range toDrop {
		_ = s.delete(bucketMessages, key)
	}
	return nil
}

// SessionForClient delegates session bookkeeping to the in-memory store;
// sessions themselves (subscriptions, inflight, enqueued) are process
// lifetime state, not part of the persisted kv contract.
func (s *Store) SessionForClient(id string) (*broker.ClientSession, bool) {
	return s.memory.SessionForClient(id)
}

func (s *Store) CreateNewSession(id string, cleanSession bool) (*broker.ClientSession, error) {
	return s.memory.CreateNewSession(id, cleanSession)
}

func (s *Store) WipeSubscriptions(id string) {
	s.memory.WipeSubscriptions(id)
}
