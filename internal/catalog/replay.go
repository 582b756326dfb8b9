package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one decoded `key:json;` log record.
type Record struct {
	Key    string
	Value  json.RawMessage
	Offset int
	Length int
}

// Replay splits a raw log into its records in write order.
func Replay(log []byte) ([]Record, error) {
	records := make([]Record, 0)
	for pos := 0; pos < len(log); {
		separator := bytes.IndexByte(log[pos:], ':')
		if separator < 0 {
			return nil, fmt.Errorf("replay record at %d: missing key separator", pos)
		}
		key := string(log[pos : pos+separator])
		valueStart := pos + separator + 1

		decoder := json.NewDecoder(bytes.NewReader(log[valueStart:]))
		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("replay record %q at %d: %w", key, pos, err)
		}
		valueEnd := valueStart + int(decoder.InputOffset())
		if valueEnd >= len(log) || log[valueEnd] != ';' {
			return nil, fmt.Errorf("replay record %q at %d: missing terminator", key, pos)
		}

		records = append(records, Record{
			Key:    key,
			Value:  value,
			Offset: pos,
			Length: valueEnd + 1 - pos,
		})
		pos = valueEnd + 1
	}

	return records, nil
}

// Rebuild creates a store whose lookup table is derived from log by replay.
// Later records for the same key win, matching Set semantics.
func Rebuild[V any](log []byte, options ...Option) (*Store[string, V], error) {
	records, err := Replay(log)
	if err != nil {
		return nil, fmt.Errorf("rebuild store: %w", err)
	}

	store := New[string, V](options...)
	for _, record := range records {
		var value V
		if err := json.Unmarshal(record.Value, &value); err != nil {
			return nil, fmt.Errorf("rebuild store decode %q: %w", record.Key, err)
		}
		if err := store.Set(record.Key, value); err != nil {
			return nil, fmt.Errorf("rebuild store: %w", err)
		}
	}

	return store, nil
}
