package mapkv

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestMap(t *testing.T, opts ...Option) *Map {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	m, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	return m
}

func Test_Map_Get_Returns_ErrAbsentKey_For_Unknown_Key(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	_, err := m.Get("missing")
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("Get(missing) err = %v, want ErrAbsentKey", err)
	}
}

func Test_Map_Set_Then_Get_Round_Trips(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	if err := m.Set("a", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := m.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if v != 42 {
		t.Fatalf("Get(a) = %v, want 42", v)
	}
}

func Test_Map_Set_Then_Get_Hits_Cache_Without_Store_Round_Trip(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	if err := m.Set("a", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, found, _ := m.locker.Cache.Get("a"); !found {
		t.Fatal("expected Set to populate the cache")
	}

	if _, err := m.Get("a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func Test_Map_GetDefault_Returns_Default_For_Absent_Key(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	v, err := m.GetDefault("missing", "fallback")
	if err != nil {
		t.Fatalf("GetDefault: %v", err)
	}

	if v != "fallback" {
		t.Fatalf("GetDefault(missing) = %v, want fallback", v)
	}
}

func Test_Map_Delete_Removes_Entry_And_Caches_Missing(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	if err := m.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := m.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := m.Get("a")
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("Get(a) after Delete: err = %v, want ErrAbsentKey", err)
	}

	_, found, isMissing := m.locker.Cache.Get("a")
	if !found || !isMissing {
		t.Fatalf("expected a to be cached as MISSING after Delete, found=%v isMissing=%v", found, isMissing)
	}
}

func Test_Map_Delete_Absent_Key_Returns_ErrAbsentKey(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	err := m.Delete("missing")
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("Delete(missing) err = %v, want ErrAbsentKey", err)
	}
}

func Test_Map_Contains_Reflects_Presence(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	ok, err := m.Contains("a")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if ok {
		t.Fatal("Contains(a) = true before Set, want false")
	}

	if err := m.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err = m.Contains("a")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if !ok {
		t.Fatal("Contains(a) = false after Set, want true")
	}
}

func Test_Map_Len_Counts_Store_Entries(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	for i, k := range []string{"a", "b", "c"} {
		if err := m.Set(k, i); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	n, err := m.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}

	if n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}
}

func Test_Map_Clear_Removes_All_Entries_And_Invalidates_Cache(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	if err := m.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	n, err := m.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}

	if n != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", n)
	}

	_, err = m.Get("a")
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("Get(a) after Clear: err = %v, want ErrAbsentKey", err)
	}
}

func Test_Map_SetDefault_Sets_Only_When_Absent(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	v, err := m.SetDefault("a", "first")
	if err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	if v != "first" {
		t.Fatalf("SetDefault(a) = %v, want first", v)
	}

	v, err = m.SetDefault("a", "second")
	if err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	if v != "first" {
		t.Fatalf("SetDefault(a) again = %v, want first (unchanged)", v)
	}
}

func Test_Map_Pop_Removes_And_Returns_Value(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	if err := m.Set("a", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := m.Pop("a")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}

	if v != "value" {
		t.Fatalf("Pop(a) = %v, want value", v)
	}

	ok, err := m.Contains("a")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if ok {
		t.Fatal("expected a to be gone after Pop")
	}
}

func Test_Map_Pop_Absent_Key_Returns_ErrAbsentKey(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	_, err := m.Pop("missing")
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("Pop(missing) err = %v, want ErrAbsentKey", err)
	}
}

func Test_Map_PopDefault_Returns_Default_Without_Mutating(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	v, err := m.PopDefault("missing", "fallback")
	if err != nil {
		t.Fatalf("PopDefault: %v", err)
	}

	if v != "fallback" {
		t.Fatalf("PopDefault(missing) = %v, want fallback", v)
	}
}

func Test_Map_PopItem_On_Empty_Map_Returns_ErrAbsentKey(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	_, err := m.PopItem(true)
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("PopItem(true) on empty map: err = %v, want ErrAbsentKey", err)
	}

	_, err = m.PopItem(false)
	if !errors.Is(err, ErrAbsentKey) {
		t.Fatalf("PopItem(false) on empty map: err = %v, want ErrAbsentKey", err)
	}
}

func Test_Map_PopItem_Last_True_Returns_Lexicographically_Last_Key(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	for i, k := range []string{"aaa", "bbb", "ccc"} {
		if err := m.Set(k, i); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	item, err := m.PopItem(true)
	if err != nil {
		t.Fatalf("PopItem(true): %v", err)
	}

	if item.Key != "ccc" {
		t.Fatalf("PopItem(true).Key = %q, want ccc", item.Key)
	}

	n, err := m.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}

	if n != 2 {
		t.Fatalf("Len() after PopItem = %d, want 2", n)
	}

	ok, err := m.Contains(item.Key)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if ok {
		t.Fatalf("expected popped key %q to be gone", item.Key)
	}
}

func Test_Map_PopItem_Last_False_Returns_First_Key(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	for i, k := range []string{"aaa", "bbb", "ccc"} {
		if err := m.Set(k, i); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	item, err := m.PopItem(false)
	if err != nil {
		t.Fatalf("PopItem(false): %v", err)
	}

	if item.Key != "aaa" {
		t.Fatalf("PopItem(false).Key = %q, want aaa", item.Key)
	}

	ok, err := m.Contains(item.Key)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if ok {
		t.Fatalf("expected popped key %q to be gone", item.Key)
	}
}

func Test_Map_Update_Merges_Entries(t *testing.T) {
	t.Parallel()

	m := openTestMap(t)

	if err := m.Set("a", "old"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	err := m.Update(map[string]any{"a": "new", "b": "fresh"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, err := m.Get("a")
	if err != nil {
		t.Fatalf("Get(a): %v", err)
	}

	if v != "new" {
		t.Fatalf("Get(a) = %v, want new", v)
	}

	v, err = m.Get("b")
	if err != nil {
		t.Fatalf("Get(b): %v", err)
	}

	if v != "fresh" {
		t.Fatalf("Get(b) = %v, want fresh", v)
	}
}

// Test_Map_Update_Fails_Without_Partial_Mutation exercises the
// serialize-everything-before-writing-anything contract: if any one
// pair fails to serialize, the store and cache are left exactly as
// they were before the call, regardless of map iteration order.
func Test_Map_Update_Fails_Without_Partial_Mutation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update-fail.db")

	m, err := OpenRaw(path)
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	err = m.Update(map[string]any{
		"a": []byte("ok"),
		"b": []byte("also-ok"),
		"c": 42, // not []byte: rejected by the raw-bytes codec
	})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Update with a bad value: err = %v, want ErrTypeMismatch", err)
	}

	n, err := m.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}

	if n != 0 {
		t.Fatalf("Len() after failed Update = %d, want 0", n)
	}
}

func Test_Map_Operations_After_Close_Return_ErrClosed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "closed.db")

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := m.Get("a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close: err = %v, want ErrClosed", err)
	}

	if err := m.Set("a", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close: err = %v, want ErrClosed", err)
	}
}

func Test_Map_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "idempotent.db")

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func Test_OpenRaw_Rejects_Non_Byte_Values(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "raw.db")

	m, err := OpenRaw(path)
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	err = m.Set("a", "not bytes")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Set(non-bytes) on raw facade: err = %v, want ErrTypeMismatch", err)
	}
}

func Test_OpenRaw_Rejects_WithCache(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "raw-cache.db")

	_, err := OpenRaw(path, WithCache(NewLRU128))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("OpenRaw with WithCache: err = %v, want ErrTypeMismatch", err)
	}
}

func Test_OpenRaw_Round_Trips_Bytes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "raw-roundtrip.db")

	m, err := OpenRaw(path)
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Set("a", []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := m.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	b, ok := v.([]byte)
	if !ok || string(b) != "payload" {
		t.Fatalf("Get(a) = %v, want []byte(payload)", v)
	}
}

func Test_Map_Equal_Compares_Contents(t *testing.T) {
	t.Parallel()

	pathA := filepath.Join(t.TempDir(), "a.db")
	pathB := filepath.Join(t.TempDir(), "b.db")

	a, err := Open(pathA)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	b, err := Open(pathB)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	for _, m := range []*Map{a, b} {
		if err := m.Set("x", 1); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	eq, err := a.Equal(b)
	if err != nil {
		t.Fatalf("Equal: %v", err)
	}

	if !eq {
		t.Fatal("expected a and b to be equal")
	}

	if err := b.Set("x", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}

	eq, err = a.Equal(b)
	if err != nil {
		t.Fatalf("Equal: %v", err)
	}

	if eq {
		t.Fatal("expected a and b to differ after diverging value")
	}
}
