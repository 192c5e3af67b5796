// Package player holds the per-caller story record: which scripts a
// player is in, their progress through scenes and rooms, and the
// optimistic-concurrency generation that arbitrates concurrent saves.
package player

import (
	"encoding/json"
	"fmt"

	"github.com/halpline/halpline/internal/phone"
)

// RoomInfo is a player's state within one room of one scene.
type RoomInfo struct {
	Name string `json:"name"`
	// State is an opaque label owned by the room's own state machine.
	State string `json:"state"`
	// FreshState is true exactly for the first visit after State was
	// assigned.
	FreshState bool `json:"fresh_state"`
	// Choices records every DTMF string the player supplied in this room.
	Choices []string       `json:"choices"`
	Data    map[string]any `json:"data"`
}

// SceneInfo is a player's state within one scene of one script.
type SceneInfo struct {
	Name         string               `json:"name"`
	RoomsVisited []string             `json:"rooms_visited"`
	RoomStates   map[string]*RoomInfo `json:"room_states"`
	// RoomQueue is the upcoming room names for the current request chain.
	RoomQueue  []string       `json:"room_queue"`
	Data       map[string]any `json:"data"`
	EndedEarly bool           `json:"ended_early"`
}

// Room returns the scene's RoomInfo for the named room, creating it on
// first entry.
func (s *SceneInfo) Room(name string) *RoomInfo {
	if s.RoomStates == nil {
		s.RoomStates = make(map[string]*RoomInfo)
	}
	info, ok := s.RoomStates[name]
	if !ok {
		info = &RoomInfo{Name: name, Data: make(map[string]any)}
		s.RoomStates[name] = info
	}
	return info
}

// PrevRoom returns the last visited room name, or "" if none.
func (s *SceneInfo) PrevRoom() string {
	if len(s.RoomsVisited) == 0 {
		return ""
	}
	return s.RoomsVisited[len(s.RoomsVisited)-1]
}

// ScriptInfo is a player's state within one script.
type ScriptInfo struct {
	State             string                    `json:"state"`
	SceneStates       map[string]*SceneInfo     `json:"scene_states"`
	SceneHistory      []string                  `json:"scene_history"`
	TextHandlerStates map[string]map[string]any `json:"text_handler_states"`
	Data              map[string]any            `json:"data"`
}

// NewScriptInfo returns a ScriptInfo at the given initial state label.
func NewScriptInfo(state string) *ScriptInfo {
	return &ScriptInfo{
		State:             state,
		SceneStates:       make(map[string]*SceneInfo),
		TextHandlerStates: make(map[string]map[string]any),
		Data:              make(map[string]any),
	}
}

// Scene returns the ScriptInfo's SceneInfo for the named scene, creating
// it on first entry.
func (s *ScriptInfo) Scene(name string) *SceneInfo {
	if s.SceneStates == nil {
		s.SceneStates = make(map[string]*SceneInfo)
	}
	info, ok := s.SceneStates[name]
	if !ok {
		info = &SceneInfo{Name: name, Data: make(map[string]any)}
		s.SceneStates[name] = info
	}
	return info
}

// Clone deep-copies the ScriptInfo through its JSON form, which is the
// authoritative shape anyway. Used to snapshot before a scene plays.
func (s *ScriptInfo) Clone() *ScriptInfo {
	data, err := json.Marshal(s)
	if err != nil {
		// ScriptInfo only ever holds JSON-decoded values.
		panic(fmt.Sprintf("cloning script info: %v", err))
	}
	c := &ScriptInfo{}
	if err := json.Unmarshal(data, c); err != nil {
		panic(fmt.Sprintf("cloning script info: %v", err))
	}
	return c
}

// Player is the full persisted record for one phone number.
type Player struct {
	Number     phone.Number           `json:"-"`
	Generation int                    `json:"generation"`
	Scripts    map[string]*ScriptInfo `json:"scripts"`
}

// New returns an empty player record for the given number.
func New(number phone.Number) *Player {
	return &Player{
		Number:  number,
		Scripts: make(map[string]*ScriptInfo),
	}
}

// Script returns the player's ScriptInfo for the named script, or nil if
// the player has never entered it.
func (p *Player) Script(name string) *ScriptInfo {
	return p.Scripts[name]
}

// SetScript installs (or replaces) the player's ScriptInfo for a script.
func (p *Player) SetScript(name string, info *ScriptInfo) {
	if p.Scripts == nil {
		p.Scripts = make(map[string]*ScriptInfo)
	}
	p.Scripts[name] = info
}
