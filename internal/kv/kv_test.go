package kv

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("Get = %q, want %q", got, "one")
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Set(ctx, "a", []byte("one"))
	store.Set(ctx, "c", []byte("three"))

	values, err := store.MGet(ctx, "a", "b", "c")
	if err != nil {
		t.Fatalf("MGet error: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("MGet returned %d values, want 3", len(values))
	}
	if string(values[0]) != "one" || values[1] != nil || string(values[2]) != "three" {
		t.Errorf("MGet = %q, want [one <nil> three]", values)
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Set(ctx, "plr:+15105550001", []byte("{}"))
	store.Set(ctx, "plr:+15105550002", []byte("{}"))
	store.Set(ctx, "other", []byte("{}"))

	keys, err := store.Keys(ctx, "plr:*")
	if err != nil {
		t.Fatalf("Keys error: %v", err)
	}
	sort.Strings(keys)
	want := []string{"plr:+15105550001", "plr:+15105550002"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
