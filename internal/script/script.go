package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
	"github.com/halpline/halpline/internal/tasks"
)

// Script state labels shared by every narrative.
const (
	// StateNew is the initial script state.
	StateNew = "State_New"
	// StateEnd is the terminal script state.
	StateEnd = "State_End"
	// IgnoreChange, used as a NextState, keeps the player's current
	// state label when a holding-pen scene finishes.
	IgnoreChange = "IGNORE_CHANGE"
)

// SceneAndState pairs a scene with the state label the script advances
// to when the scene completes.
type SceneAndState struct {
	Scene     *Scene
	NextState string
}

// Structure routes inbound calls: current script state, then the dialed
// number (exact key beats the wildcard), to a scene.
type Structure map[string]map[phone.Key]SceneAndState

// Reporter receives operator notifications for scene failures.
type Reporter interface {
	Report(ctx context.Context, msg string)
}

// TaskQueue accepts background work. The task runner implements it.
type TaskQueue interface {
	Submit(ctx context.Context, task tasks.Task) error
}

// Script drives one narrative: a structure of scenes keyed by script
// state and dialed number, plus the text handlers for inbound SMS.
type Script struct {
	name      string
	structure Structure
	handlers  []TextHandler
	manager   *Manager
	players   *player.Store
	queue     TaskQueue
	reporter  Reporter
	logger    *slog.Logger
}

// NewScript wires a narrative together. reporter may be nil.
func NewScript(name string, structure Structure, handlers []TextHandler, manager *Manager,
	players *player.Store, queue TaskQueue, reporter Reporter, logger *slog.Logger) *Script {
	return &Script{
		name:      name,
		structure: structure,
		handlers:  handlers,
		manager:   manager,
		players:   players,
		queue:     queue,
		reporter:  reporter,
		logger:    logger.With("subsystem", "script", "script", name),
	}
}

func (s *Script) Name() string { return s.name }

// Manager exposes the script's shared-state manager.
func (s *Script) Manager() *Manager { return s.manager }

// Load warms every scene's rooms at process start.
func (s *Script) Load(ctx context.Context) error {
	for _, byNumber := range s.structure {
		for _, sas := range byNumber {
			if err := sas.Scene.Load(ctx); err != nil {
				return fmt.Errorf("script %s: %w", s.name, err)
			}
		}
	}
	return nil
}

// Playing reports whether the player is mid-script.
func (s *Script) Playing(info *player.ScriptInfo) bool {
	return info != nil && info.State != StateEnd
}

// CouldStart reports whether dialing this number begins a fresh run.
func (s *Script) CouldStart(dialed phone.Number) bool {
	_, ok := s.lookup(StateNew, dialed)
	return ok
}

func (s *Script) lookup(state string, dialed phone.Number) (SceneAndState, bool) {
	byNumber, ok := s.structure[state]
	if !ok {
		return SceneAndState{}, false
	}
	if sas, ok := byNumber[phone.Exact(dialed)]; ok {
		return sas, true
	}
	sas, ok := byNumber[phone.Any]
	return sas, ok
}

// ProcessCall serves one voice webhook. handled is false when this
// script declines the call so another script (or the confused response)
// can take it.
func (s *Script) ProcessCall(ctx context.Context, req *Request) (verbs []twiml.Element, handled bool, err error) {
	p, err := req.Player()
	if err != nil {
		return nil, false, err
	}

	info := p.Script(s.name)
	if !s.Playing(info) {
		if !s.CouldStart(req.Dialed) {
			return nil, false, nil
		}
		info = player.NewScriptInfo(StateNew)
		p.SetScript(s.name, info)
	}

	sas, ok := s.lookup(info.State, req.Dialed)
	if !ok {
		return nil, false, nil
	}

	shard, err := s.manager.NewShard(ctx)
	if err != nil {
		return nil, false, err
	}

	snapshot := info.Clone()
	rc := &Context{Player: p, Shard: shard, Request: req, Script: info}
	verbs, playErr := sas.Scene.Play(ctx, rc)
	if playErr != nil {
		// The player never hears the failure: restore their record,
		// tell the operators, play a calm line.
		p.SetScript(s.name, snapshot)
		s.logger.Error("scene failed", "scene", sas.Scene.Name(), "player", req.Caller.E164(), "error", playErr)
		if s.reporter != nil {
			s.reporter.Report(ctx, fmt.Sprintf("scene %s failed for %s: %v", sas.Scene.Name(), req.Caller.E164(), playErr))
		}
		return apologyResponse(), true, nil
	}

	if sas.Scene.Done(rc.Scene) {
		info.SceneHistory = append(info.SceneHistory, sas.Scene.Name())
		if sas.NextState != IgnoreChange {
			info.State = sas.NextState
		}
	}

	s.finish(ctx, req, p, shard)
	return verbs, true, nil
}

// ProcessText runs the script's text handlers for one inbound SMS.
// handled is false when the sender is not mid-script.
func (s *Script) ProcessText(ctx context.Context, req *Request) (bool, error) {
	p, err := req.Player()
	if err != nil {
		return false, err
	}
	info := p.Script(s.name)
	if !s.Playing(info) {
		return false, nil
	}

	shard, err := s.manager.NewShard(ctx)
	if err != nil {
		return false, err
	}

	for _, handler := range s.handlers {
		if err := handler.HandleText(ctx, req, shard, p, info); err != nil {
			s.logger.Error("text handler failed", "handler", handler.HandlerName(), "player", req.Caller.E164(), "error", err)
		}
	}

	s.finish(ctx, req, p, shard)
	return true, nil
}

// finish enqueues the shard integration and saves the player. A stale
// save means a concurrent request won; the loser is dropped quietly.
func (s *Script) finish(ctx context.Context, req *Request, p *player.Player, shard *Shard) {
	if err := s.queue.Submit(ctx, AfterRequestActions{Shard: shard}); err != nil {
		s.logger.Error("could not enqueue integrate", "error", err)
	}
	if err := s.players.Save(ctx, p); err != nil {
		if errors.Is(err, player.ErrStaleGeneration) {
			s.logger.Debug("dropping stale player save", "player", req.Caller.E164())
		} else {
			s.logger.Error("player save failed", "player", req.Caller.E164(), "error", err)
		}
	}
}

// AfterRequestActions carries a request's shard to the state manager
// once the response is already on the wire.
type AfterRequestActions struct {
	Shard *Shard
}

func (AfterRequestActions) Name() string { return "after-request-actions" }

func (a AfterRequestActions) Execute(ctx context.Context) error {
	return a.Shard.Integrate(ctx)
}

// Registry dispatches inbound requests across every installed script.
type Registry struct {
	scripts []*Script
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger, scripts ...*Script) *Registry {
	return &Registry{scripts: scripts, logger: logger.With("subsystem", "scripts")}
}

// Load warms every script.
func (r *Registry) Load(ctx context.Context) error {
	for _, s := range r.scripts {
		if err := s.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}

// HandleCall offers the call to each script in order; the first taker
// wins. When nobody takes it the caller hears the confused response.
func (r *Registry) HandleCall(ctx context.Context, req *Request) []twiml.Element {
	for _, s := range r.scripts {
		verbs, handled, err := s.ProcessCall(ctx, req)
		if err != nil {
			r.logger.Error("script errored on call", "script", s.Name(), "error", err)
			continue
		}
		if handled {
			return verbs
		}
	}
	return ConfusedResponse()
}

// HandleText offers the SMS to each script. Texts have no reply body;
// handlers act via side effects.
func (r *Registry) HandleText(ctx context.Context, req *Request) {
	for _, s := range r.scripts {
		handled, err := s.ProcessText(ctx, req)
		if err != nil {
			r.logger.Error("script errored on text", "script", s.Name(), "error", err)
			continue
		}
		if handled {
			return
		}
	}
}

// ConfusedResponse is played when no script recognizes the caller.
func ConfusedResponse() []twiml.Element {
	return []twiml.Element{
		&twiml.VoiceSay{Message: "We're not quite sure where you are, sorry!"},
	}
}

func apologyResponse() []twiml.Element {
	return []twiml.Element{
		&twiml.VoiceSay{Message: "Please give us a moment, we seem to be having trouble finding your place in the story."},
	}
}
