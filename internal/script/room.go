package script

import (
	"context"

	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/player"
)

// Room is one unit of a scene: given a player's context it produces the
// voice verbs for this request. Rooms are stateless singletons; all
// per-player state lives in the Context.
type Room interface {
	// Name is the stable identity used in Choices tables and RoomInfo.
	Name() string
	// Load is one-shot resource warm-up at process start.
	Load(ctx context.Context) error
	// NewPlayerChoice lets the room the player just left fold their DTMF
	// choice into its state before the next room plays.
	NewPlayerChoice(ctx context.Context, digit string, rc *Context) error
	// Action produces the voice response for this visit.
	Action(ctx context.Context, rc *Context) ([]twiml.Element, error)
}

// Context is everything a room may read or mutate for one request.
// Mutations land directly in the player's records and are persisted when
// the script saves the player.
type Context struct {
	Player  *player.Player
	Shard   *Shard
	Request *Request

	Script *player.ScriptInfo
	Scene  *player.SceneInfo
	Room   *player.RoomInfo

	stateAssigned bool
}

// State returns the room's current state label.
func (c *Context) State() string { return c.Room.State }

// SetState assigns a new room state label and marks it fresh for the
// next visit.
func (c *Context) SetState(state string) {
	c.Room.State = state
	c.Room.FreshState = true
	c.stateAssigned = true
}

// StateIsNew reports whether this is the first visit since the state
// was assigned.
func (c *Context) StateIsNew() bool { return c.Room.FreshState }

// EndScene marks the scene finished regardless of remaining rooms.
func (c *Context) EndScene() { c.Scene.EndedEarly = true }

// ScriptData is the script-lifetime key-value bag.
func (c *Context) ScriptData() map[string]any {
	if c.Script.Data == nil {
		c.Script.Data = make(map[string]any)
	}
	return c.Script.Data
}

// SceneData is the scene-lifetime key-value bag.
func (c *Context) SceneData() map[string]any {
	if c.Scene.Data == nil {
		c.Scene.Data = make(map[string]any)
	}
	return c.Scene.Data
}

// RoomData is the room-lifetime key-value bag.
func (c *Context) RoomData() map[string]any {
	if c.Room.Data == nil {
		c.Room.Data = make(map[string]any)
	}
	return c.Room.Data
}

// Path returns the player's narrative path label, or "" if unassigned.
func (c *Context) Path() string {
	path, _ := c.ScriptData()["path"].(string)
	return path
}

// SetPath assigns the player's narrative path.
func (c *Context) SetPath(path string) {
	c.ScriptData()["path"] = path
}
