package catalog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"testing"
)

type descriptorStub struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func TestStoreSetUniqueKeys(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	for idx := 0; idx < 50; idx++ {
		if err := store.Set(fmt.Sprintf("key-%d", idx), idx); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	if store.Len() != 50 {
		t.Fatalf("len = %d, want 50", store.Len())
	}
	for idx := 0; idx < 50; idx++ {
		value, ok := store.Get(fmt.Sprintf("key-%d", idx))
		if !ok || value != idx {
			t.Fatalf("get key-%d = (%d, %v), want (%d, true)", idx, value, ok, idx)
		}
	}
}

func TestStoreOverwriteKeepsLatestValue(t *testing.T) {
	t.Parallel()

	store := New[string, string]()
	mustSet(t, store, "ping", "first")
	mustSet(t, store, "ping", "second")

	value, ok := store.Get("ping")
	if !ok || value != "second" {
		t.Fatalf("get = (%q, %v), want (second, true)", value, ok)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}
	if got, want := string(store.Log()), `ping:"first";ping:"second";`; got != want {
		t.Fatalf("log = %q, want %q", got, want)
	}
}

func TestStoreIdenticalSetGrowsLogByOneRecord(t *testing.T) {
	t.Parallel()

	store := New[string, descriptorStub]()
	value := descriptorStub{Name: "ping", Description: "x"}
	mustSet(t, store, "ping", value)
	before := store.LogSize()
	entry, _ := store.Entry("ping")

	mustSet(t, store, "ping", value)

	got, _ := store.Get("ping")
	if got != value {
		t.Fatalf("get = %+v, want %+v", got, value)
	}
	if grew := store.LogSize() - before; grew != entry.Length {
		t.Fatalf("log grew by %d, want %d", grew, entry.Length)
	}
}

func TestStoreEntryTracksLogRange(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	mustSet(t, store, "a", 1)
	mustSet(t, store, "bb", 22)

	entry, ok := store.Entry("bb")
	if !ok {
		t.Fatal("entry bb missing")
	}
	log := store.Log()
	if got := string(log[entry.Offset : entry.Offset+entry.Length]); got != "bb:22;" {
		t.Fatalf("entry bytes = %q, want bb:22;", got)
	}
}

func TestStoreDeleteLeavesLog(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	mustSet(t, store, "a", 1)
	mustSet(t, store, "b", 2)
	logBefore := store.LogHex()

	if !store.Delete("a") {
		t.Fatal("delete a = false, want true")
	}
	if store.Delete("a") {
		t.Fatal("second delete a = true, want false")
	}
	if store.Has("a") {
		t.Fatal("has a after delete")
	}
	if store.LogHex() != logBefore {
		t.Fatal("log changed after delete")
	}
	if keys := store.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("keys = %v, want [b]", keys)
	}
}

func TestStoreClearResetsBoth(t *testing.T) {
	t.Parallel()

	store := New[string, string](WithCapacity(8))
	for idx := 0; idx < 10; idx++ {
		mustSet(t, store, fmt.Sprintf("k%d", idx), "value")
	}
	if store.Cap() <= 8 {
		t.Fatalf("cap = %d, want growth past 8", store.Cap())
	}

	store.Clear()

	if store.Len() != 0 {
		t.Fatalf("len = %d, want 0", store.Len())
	}
	if store.LogSize() != 0 {
		t.Fatalf("log size = %d, want 0", store.LogSize())
	}
	if store.Cap() != 8 {
		t.Fatalf("cap = %d, want 8", store.Cap())
	}
}

func TestStoreIterationFollowsInsertionOrder(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	for _, key := range []string{"zeta", "alpha", "mid"} {
		mustSet(t, store, key, len(key))
	}
	mustSet(t, store, "alpha", 100)

	got := make([]string, 0, 3)
	for key := range store.All() {
		got = append(got, key)
	}
	want := []string{"zeta", "alpha", "mid"}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	visited := 0
	store.Range(func(string, int) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("range visited %d entries after stop, want 1", visited)
	}
}

func TestStoreGrowthInvariant(t *testing.T) {
	t.Parallel()

	const initial = 16
	store := New[string, string](WithCapacity(initial))
	written := 0
	for idx := 0; idx < 500; idx++ {
		key := fmt.Sprintf("key-%03d", idx)
		mustSet(t, store, key, "payload")
		written += len(key) + len(`:"payload";`)

		if store.Cap() < written {
			t.Fatalf("cap = %d after %d bytes written", store.Cap(), written)
		}
	}

	if store.LogSize() != written {
		t.Fatalf("log size = %d, want %d", store.LogSize(), written)
	}
	maxGrows := int(math.Ceil(math.Log2(float64(written)/initial))) + 1
	if store.Grows() > maxGrows {
		t.Fatalf("grows = %d, want <= %d", store.Grows(), maxGrows)
	}
}

func TestStoreLargeRecordGrowsToRequired(t *testing.T) {
	t.Parallel()

	store := New[string, string](WithCapacity(4))
	big := make([]byte, 100)
	for idx := range big {
		big[idx] = 'x'
	}
	mustSet(t, store, "k", string(big))

	if store.Cap() < store.LogSize() {
		t.Fatalf("cap = %d, log size = %d", store.Cap(), store.LogSize())
	}
	if store.Grows() != 1 {
		t.Fatalf("grows = %d, want 1", store.Grows())
	}
}

func TestStoreLogHex(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	mustSet(t, store, "a", 1)

	if got, want := store.LogHex(), hex.EncodeToString([]byte("a:1;")); got != want {
		t.Fatalf("hex = %q, want %q", got, want)
	}
}

func TestStoreSetRejectsUnencodableValue(t *testing.T) {
	t.Parallel()

	store := New[string, any]()
	if err := store.Set("bad", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
	if store.Len() != 0 || store.LogSize() != 0 {
		t.Fatal("failed set mutated store")
	}
}

func TestStoreSetRejectsSeparatorInKey(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	mustSet(t, store, "ok", 1)
	if err := store.Set("ns:cmd", 2); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("error = %v, want %v", err, ErrInvalidKey)
	}
	if store.Len() != 1 || store.Has("ns:cmd") {
		t.Fatalf("failed set mutated store: keys = %v", store.Keys())
	}

	records, err := Replay(store.Log())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(records) != 1 || records[0].Key != "ok" {
		t.Fatalf("records = %+v, want only ok", records)
	}
}

func TestStoreLogRecords(t *testing.T) {
	t.Parallel()

	store := New[string, int]()
	mustSet(t, store, "a", 1)
	mustSet(t, store, "a", 2)
	mustSet(t, store, "b", 3)
	store.Delete("b")

	got, err := store.LogRecords()
	if err != nil {
		t.Fatalf("log records failed: %v", err)
	}
	if got != 3 || store.Len() != 1 {
		t.Fatalf("records = %d len = %d, want 3 and 1", got, store.Len())
	}
}

func mustSet[V any](t *testing.T, store *Store[string, V], key string, value V) {
	t.Helper()

	if err := store.Set(key, value); err != nil {
		t.Fatalf("set %s failed: %v", key, err)
	}
}
