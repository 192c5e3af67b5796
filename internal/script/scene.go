package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/player"
)

// ErrStoryNavigation flags a scene that could not compute a next room.
// The script layer recovers it; the player never hears about it.
var ErrStoryNavigation = errors.New("no next room")

// AnyChoice is the fallback key in Choices tables, matching any path or
// any digit.
const AnyChoice = "*"

// Choices routes a scene: previous room name, then the player's path,
// then the DTMF digit, each falling back to AnyChoice, yielding the next
// room queue.
type Choices map[string]map[string]map[string][]string

// Scene is an ordered maze of rooms. Start seeds the room queue on first
// entry; Choices routes every request after the queue drains.
type Scene struct {
	name    string
	start   []string
	choices Choices
	rooms   map[string]Room
}

// NewScene registers the given rooms under their names. Start and
// Choices reference rooms by name only.
func NewScene(name string, start []string, choices Choices, rooms ...Room) *Scene {
	registry := make(map[string]Room, len(rooms))
	for _, room := range rooms {
		registry[room.Name()] = room
	}
	return &Scene{name: name, start: start, choices: choices, rooms: registry}
}

func (s *Scene) Name() string { return s.name }

// Load warms every room once at process start.
func (s *Scene) Load(ctx context.Context) error {
	for name, room := range s.rooms {
		if err := room.Load(ctx); err != nil {
			return fmt.Errorf("loading room %s: %w", name, err)
		}
	}
	return nil
}

// Done reports whether the scene has finished for this player: ended
// early, or the queue has drained and the last room routes nowhere.
func (s *Scene) Done(info *player.SceneInfo) bool {
	if info.EndedEarly {
		return true
	}
	if len(info.RoomQueue) > 0 {
		return false
	}
	prev := info.PrevRoom()
	if prev == "" {
		return false
	}
	return len(s.choices[prev]) == 0
}

// Play serves one inbound request. It pops the next room off the queue
// (consulting Choices when the queue is empty), gives the previous room
// its shot at the player's DTMF choice, and returns the new room's
// verbs.
func (s *Scene) Play(ctx context.Context, rc *Context) ([]twiml.Element, error) {
	info := rc.Script.Scene(s.name)
	if len(info.RoomsVisited) == 0 && info.RoomQueue == nil {
		info.RoomQueue = append([]string(nil), s.start...)
	}
	rc.Scene = info

	prev := info.PrevRoom()
	digits := rc.Request.Digits
	if prev != "" && digits != "" {
		prevRoom, ok := s.rooms[prev]
		if !ok {
			return nil, fmt.Errorf("%w: unknown previous room %s in %s", ErrStoryNavigation, prev, s.name)
		}
		prevInfo := info.Room(prev)
		prevCtx := *rc
		prevCtx.Room = prevInfo
		if err := prevRoom.NewPlayerChoice(ctx, digits, &prevCtx); err != nil {
			return nil, fmt.Errorf("choice in %s: %w", prev, err)
		}
		prevInfo.Choices = append(prevInfo.Choices, digits)
	}

	queue := info.RoomQueue
	if len(queue) == 0 {
		next, err := s.route(prev, rc.Path(), digits)
		if err != nil {
			return nil, err
		}
		queue = next
	}

	name := queue[0]
	info.RoomQueue = queue[1:]

	room, ok := s.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown room %s in %s", ErrStoryNavigation, name, s.name)
	}

	roomInfo := info.Room(name)
	rc.Room = roomInfo
	rc.stateAssigned = false
	verbs, err := room.Action(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", name, err)
	}
	if !rc.stateAssigned {
		roomInfo.FreshState = false
	}

	info.RoomsVisited = append(info.RoomsVisited, name)
	return verbs, nil
}

// route resolves the Choices table: path then digit, each with the
// AnyChoice fallback.
func (s *Scene) route(prev, path, digits string) ([]string, error) {
	if prev == "" {
		return nil, fmt.Errorf("%w: scene %s has an empty queue and no previous room", ErrStoryNavigation, s.name)
	}
	byPath, ok := s.choices[prev]
	if !ok {
		return nil, fmt.Errorf("%w: room %s routes nowhere", ErrStoryNavigation, prev)
	}

	byDigit, ok := byPath[path]
	if !ok {
		byDigit, ok = byPath[AnyChoice]
		if !ok {
			return nil, fmt.Errorf("%w: room %s has no route for path %q", ErrStoryNavigation, prev, path)
		}
	}

	next, ok := byDigit[digits]
	if !ok {
		next, ok = byDigit[AnyChoice]
		if !ok {
			return nil, fmt.Errorf("%w: room %s has no route for digits %q", ErrStoryNavigation, prev, digits)
		}
	}
	return append([]string(nil), next...), nil
}
