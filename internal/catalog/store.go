// Package catalog provides the command catalog store: an insertion-ordered lookup
// table paired with an append-only byte log of every insertion.
//
// The two representations are independent. Delete only touches the lookup table,
// while the log keeps every record ever written until Clear. Replay and Rebuild
// derive a lookup view from a log when the two need to be reconciled.
package catalog

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
)

// DefaultCapacity is the initial log capacity used when none is configured.
const DefaultCapacity = 1024

// ErrInvalidKey reports a key whose text contains the record separator.
var ErrInvalidKey = errors.New("catalog: key contains ':'")

// Entry is one live lookup value together with the log bytes of its latest record.
type Entry[V any] struct {
	// Value is the stored value.
	Value V
	// Offset is the byte offset of the record in the log.
	Offset int
	// Length is the encoded record length in bytes.
	Length int
}

// Store is a lookup table with an append-only audit log.
type Store[K comparable, V any] struct {
	mu sync.RWMutex

	initialCapacity int
	entries         map[K]Entry[V]
	order           []K

	log   []byte
	grows int
}

// Option mutates store construction.
type Option func(*storeConfig)

type storeConfig struct {
	capacity int
}

// WithCapacity configures the initial log capacity in bytes.
func WithCapacity(capacity int) Option {
	return func(cfg *storeConfig) {
		if capacity > 0 {
			cfg.capacity = capacity
		}
	}
}

// New creates an empty store.
func New[K comparable, V any](options ...Option) *Store[K, V] {
	cfg := storeConfig{capacity: DefaultCapacity}
	for _, option := range options {
		option(&cfg)
	}

	return &Store[K, V]{
		initialCapacity: cfg.capacity,
		entries:         make(map[K]Entry[V]),
		log:             make([]byte, 0, cfg.capacity),
	}
}

// Set inserts or overwrites key and appends a `key:json;` record to the log.
//
// The record is appended even when key already exists, so the log length never
// decreases between clears.
func (s *Store[K, V]) Set(key K, value V) error {
	record, err := encodeRecord(key, value)
	if err != nil {
		return fmt.Errorf("set %v: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offset := len(s.log)
	s.appendLocked(record)

	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = Entry[V]{
		Value:  value,
		Offset: offset,
		Length: len(record),
	}

	return nil
}

// Get returns the current value for key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]

	return entry.Value, ok
}

// Entry returns the current value for key with its log byte range.
func (s *Store[K, V]) Entry(key K) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]

	return entry, ok
}

// Has reports whether key is present in the lookup table.
func (s *Store[K, V]) Has(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[key]

	return ok
}

// Delete removes key from the lookup table. The log is left untouched.
func (s *Store[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	for idx, candidate := range s.order {
		if candidate == key {
			s.order = append(s.order[:idx:idx], s.order[idx+1:]...)
			break
		}
	}

	return true
}

// Len returns the number of live lookup entries.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Clear empties the lookup table and the log, and resets log capacity.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[K]Entry[V])
	s.order = nil
	s.log = make([]byte, 0, s.initialCapacity)
}

// Keys returns live keys in insertion order.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]K(nil), s.order...)
}

// All iterates live entries in insertion order over a snapshot.
func (s *Store[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		s.mu.RLock()
		keys := append([]K(nil), s.order...)
		values := make([]V, len(keys))
		for idx, key := range keys {
			values[idx] = s.entries[key].Value
		}
		s.mu.RUnlock()

		for idx, key := range keys {
			if !yield(key, values[idx]) {
				return
			}
		}
	}
}

// Range calls fn for each live entry in insertion order until fn returns false.
func (s *Store[K, V]) Range(fn func(key K, value V) bool) {
	for key, value := range s.All() {
		if !fn(key, value) {
			return
		}
	}
}

// Log returns a copy of the used log bytes.
func (s *Store[K, V]) Log() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]byte(nil), s.log...)
}

// LogRecords counts the records in the log by replaying it.
func (s *Store[K, V]) LogRecords() (int, error) {
	records, err := Replay(s.Log())
	if err != nil {
		return 0, err
	}

	return len(records), nil
}

// LogHex returns the used log bytes hex encoded.
func (s *Store[K, V]) LogHex() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return hex.EncodeToString(s.log)
}

// LogSize returns the number of bytes written to the log since the last clear.
func (s *Store[K, V]) LogSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.log)
}

// Cap returns the current log capacity.
func (s *Store[K, V]) Cap() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cap(s.log)
}

// Grows returns how many times the log has been reallocated.
func (s *Store[K, V]) Grows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grows
}

// appendLocked writes record, doubling capacity when it would overflow.
func (s *Store[K, V]) appendLocked(record []byte) {
	required := len(s.log) + len(record)
	if required > cap(s.log) {
		next := max(cap(s.log)*2, required)
		grown := make([]byte, len(s.log), next)
		copy(grown, s.log)
		s.log = grown
		s.grows++
	}
	s.log = append(s.log, record...)
}

func encodeRecord[K comparable, V any](key K, value V) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	text := fmt.Sprint(key)
	if strings.Contains(text, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, text)
	}

	record := make([]byte, 0, len(text)+len(payload)+2)
	record = append(record, text...)
	record = append(record, ':')
	record = append(record, payload...)
	record = append(record, ';')

	return record, nil
}
