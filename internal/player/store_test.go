package player

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/halpline/halpline/internal/kv"
	"github.com/halpline/halpline/internal/phone"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	redis, err := kv.NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore error: %v", err)
	}
	t.Cleanup(func() { redis.Close() })
	return NewStore(redis, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadMissingIsFresh(t *testing.T) {
	store := newTestStore(t)
	n := phone.MustParse("+15105550001")

	p, err := store.Load(context.Background(), n)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if p.Generation != 0 {
		t.Errorf("Generation = %d, want 0", p.Generation)
	}
	if len(p.Scripts) != 0 {
		t.Errorf("fresh player has %d scripts, want 0", len(p.Scripts))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	n := phone.MustParse("+15105550001")

	p := New(n)
	info := NewScriptInfo("State_New")
	info.Data["path"] = "Clavae"
	scene := info.Scene("Tip Line Scene")
	scene.RoomsVisited = []string{"Tip Line Start"}
	room := scene.Room("Tip Line Start")
	room.State = "intro"
	room.Choices = append(room.Choices, "1")
	p.SetScript("telemarketopia", info)

	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	back, err := store.Load(ctx, n)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	got := back.Script("telemarketopia")
	if got == nil {
		t.Fatal("script info lost in round trip")
	}
	if got.State != "State_New" {
		t.Errorf("State = %q, want State_New", got.State)
	}
	if got.Data["path"] != "Clavae" {
		t.Errorf("Data[path] = %v, want Clavae", got.Data["path"])
	}
	gotScene := got.SceneStates["Tip Line Scene"]
	if gotScene == nil || gotScene.Name != "Tip Line Scene" {
		t.Fatalf("scene state corrupted: %+v", gotScene)
	}
	gotRoom := gotScene.RoomStates["Tip Line Start"]
	if gotRoom == nil || gotRoom.State != "intro" || len(gotRoom.Choices) != 1 {
		t.Errorf("room state corrupted: %+v", gotRoom)
	}
}

func TestScriptsSurviveSerialization(t *testing.T) {
	p := New(phone.MustParse("+15105550001"))
	info := NewScriptInfo("State_New")
	info.SceneHistory = []string{"Intro Scene"}
	p.SetScript("telemarketopia", info)

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	back := New(p.Number)
	if err := json.Unmarshal(data, back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	again, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("re-marshal error: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("scripts content changed across serialization:\n%s\n%s", data, again)
	}
}

func TestSaveDropsStaleWriter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	n := phone.MustParse("+15105550001")

	p := New(n)
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Snapshot restore bumps the stored generation past ours.
	restored := New(n)
	if err := store.AdvanceGenerationTo(ctx, restored); err != nil {
		t.Fatalf("AdvanceGenerationTo error: %v", err)
	}
	if restored.Generation != 1 {
		t.Errorf("restored Generation = %d, want 1", restored.Generation)
	}

	// The in-flight writer still holds generation 0 and must lose.
	if err := store.Save(ctx, p); !errors.Is(err, ErrStaleGeneration) {
		t.Errorf("expected ErrStaleGeneration, got %v", err)
	}
}

func TestSaveSameGenerationWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	n := phone.MustParse("+15105550001")

	p := New(n)
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("first Save error: %v", err)
	}
	p.SetScript("telemarketopia", NewScriptInfo("State_New"))
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	back, err := store.Load(ctx, n)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if back.Script("telemarketopia") == nil {
		t.Error("second save did not persist")
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, raw := range []string{"+15105550001", "+15105550002"} {
		if err := store.Save(ctx, New(phone.MustParse(raw))); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	numbers, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(numbers) != 2 {
		t.Fatalf("List returned %d numbers, want 2", len(numbers))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	n := phone.MustParse("+15105550001")

	if err := store.Save(ctx, New(n)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Delete(ctx, n); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	p, err := store.Load(ctx, n)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(p.Scripts) != 0 || p.Generation != 0 {
		t.Error("deleted player did not come back fresh")
	}
}
