package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halpline/halpline/internal/kv"
	"github.com/halpline/halpline/internal/phone"
)

// keyPrefix namespaces player records in the shared store.
const keyPrefix = "plr:"

// ErrStaleGeneration is returned by Save when a newer writer has already
// persisted the record. Callers drop their copy and move on.
var ErrStaleGeneration = errors.New("player record is stale")

// Key returns the store key for a number.
func Key(n phone.Number) string {
	return keyPrefix + n.E164()
}

// Store reads and writes player records. Per-player records use no lock;
// concurrent writers are arbitrated by the generation counter.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

func NewStore(store kv.Store, logger *slog.Logger) *Store {
	return &Store{
		kv:     store,
		logger: logger.With("subsystem", "players"),
	}
}

// Load fetches the record for a number. A missing key yields a fresh
// player; a corrupt record falls back to fresh with a log line rather
// than failing the call.
func (s *Store) Load(ctx context.Context, number phone.Number) (*Player, error) {
	data, err := s.kv.Get(ctx, Key(number))
	if errors.Is(err, kv.ErrNotFound) {
		return New(number), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading player %s: %w", number.E164(), err)
	}

	p := New(number)
	if err := json.Unmarshal(data, p); err != nil {
		s.logger.Error("player record corrupt, starting fresh", "player", number.E164(), "error", err)
		return New(number), nil
	}
	return p, nil
}

// Save writes the record using optimistic concurrency: if the stored
// generation is newer than ours, a concurrent writer won and this save
// is aborted with ErrStaleGeneration.
func (s *Store) Save(ctx context.Context, p *Player) error {
	current, err := s.storedGeneration(ctx, p.Number)
	if err != nil {
		return err
	}
	if current > p.Generation {
		return fmt.Errorf("%w: stored generation %d > %d", ErrStaleGeneration, current, p.Generation)
	}
	return s.write(ctx, p)
}

// AdvanceGenerationTo force-writes a replacement record, setting its
// generation one past whatever is stored so that any in-flight writer
// holding the old record loses its next Save. Used by snapshot restore.
func (s *Store) AdvanceGenerationTo(ctx context.Context, p *Player) error {
	current, err := s.storedGeneration(ctx, p.Number)
	if err != nil {
		return err
	}
	p.Generation = current + 1
	return s.write(ctx, p)
}

// Delete removes a player record.
func (s *Store) Delete(ctx context.Context, number phone.Number) error {
	return s.kv.Delete(ctx, Key(number))
}

// List returns the numbers of every persisted player.
func (s *Store) List(ctx context.Context) ([]phone.Number, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	numbers := make([]phone.Number, 0, len(keys))
	for _, key := range keys {
		n, err := phone.Parse(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			s.logger.Warn("skipping unparseable player key", "key", key)
			continue
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func (s *Store) storedGeneration(ctx context.Context, number phone.Number) (int, error) {
	data, err := s.kv.Get(ctx, Key(number))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading player %s: %w", number.E164(), err)
	}
	var probe struct {
		Generation int `json:"generation"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, nil
	}
	return probe.Generation, nil
}

func (s *Store) write(ctx context.Context, p *Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding player %s: %w", p.Number.E164(), err)
	}
	if err := s.kv.Set(ctx, Key(p.Number), data); err != nil {
		return fmt.Errorf("saving player %s: %w", p.Number.E164(), err)
	}
	return nil
}
