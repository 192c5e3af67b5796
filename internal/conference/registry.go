package conference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/kv"
	"github.com/halpline/halpline/internal/media"
	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/voice"
)

// listKey is where the active conference set persists.
const listKey = "spins_conference_list"

// statusCallbackEvents are the lifecycle events we subscribe each leg to.
const statusCallbackEvents = "start end leave join"

// ErrNoSuchConference is returned for an id not in the active set.
var ErrNoSuchConference = errors.New("no such conference")

// Event is one status callback applied to a conference. Conference is a
// snapshot taken as the callback was applied; later callbacks do not
// show through it.
type Event struct {
	Conference  *Conference
	Name        string // conference-start, participant-join, participant-leave, ...
	Participant string // E.164 label, may be empty for conference-level events
}

// EventHandler lets the narrative react to conference lifecycle events
// (e.g. text a player their next move when they hang up).
type EventHandler interface {
	HandleConferenceEvent(ctx context.Context, event Event) error
}

// Registry owns the active conference set under one lock, persisting
// every mutation.
type Registry struct {
	mu          sync.Mutex
	store       kv.Store
	gateway     voice.Gateway
	catalog     media.Catalog
	webhookURL  func(path string) string
	holdMusicID int
	handler     EventHandler
	logger      *slog.Logger

	conferences []*Conference
	lastID      int
}

// NewRegistry builds the registry. webhookURL joins a path onto the
// public base URL; holdMusicID is the asset participants hear while
// waiting for the other side.
func NewRegistry(store kv.Store, gateway voice.Gateway, catalog media.Catalog,
	webhookURL func(path string) string, holdMusicID int, logger *slog.Logger) *Registry {
	return &Registry{
		store:       store,
		gateway:     gateway,
		catalog:     catalog,
		webhookURL:  webhookURL,
		holdMusicID: holdMusicID,
		logger:      logger.With("subsystem", "conference"),
	}
}

// SetEventHandler installs the narrative's event hook.
func (r *Registry) SetEventHandler(h EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Load restores the persisted conference set at startup.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.store.Get(ctx, listKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading conference list: %w", err)
	}
	var conferences []*Conference
	if err := json.Unmarshal(data, &conferences); err != nil {
		return fmt.Errorf("decoding conference list: %w", err)
	}
	r.conferences = conferences
	for _, c := range conferences {
		if c.ID > r.lastID {
			r.lastID = c.ID
		}
	}
	return nil
}

// New allocates a conference record. The platform side comes into being
// when the first participant dials in.
func (r *Registry) New(ctx context.Context, from phone.Number) (*Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	conf := &Conference{
		ID:           r.lastID,
		From:         from,
		Participants: make(map[string]Status),
		Intros:       make(map[string]int),
	}
	r.conferences = append(r.conferences, conf)
	if err := r.persist(ctx); err != nil {
		return nil, err
	}
	return conf.Clone(), nil
}

// Get returns a copy of the conference with the given id. The registry's
// own record never leaves the lock.
func (r *Registry) Get(id int) (*Conference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conf, err := r.find(id)
	if err != nil {
		return nil, err
	}
	return conf.Clone(), nil
}

// List returns a snapshot of the active conference set.
func (r *Registry) List() []*Conference {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		out = append(out, c.Clone())
	}
	return out
}

// Remove drops a conference from the active set.
func (r *Registry) Remove(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.conferences {
		if c.ID == id {
			r.conferences = append(r.conferences[:i], r.conferences[i+1:]...)
			return r.persist(ctx)
		}
	}
	return fmt.Errorf("%w: %d", ErrNoSuchConference, id)
}

// AddParticipant dials a player into the conference with a personalized
// intro clip. An introAssetID of zero dials them straight in.
func (r *Registry) AddParticipant(ctx context.Context, id int, to phone.Number, introAssetID int) error {
	r.mu.Lock()
	conf, err := r.find(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	conf.Participants[to.E164()] = StatusInvited
	if introAssetID != 0 {
		conf.Intros[to.E164()] = introAssetID
	}
	from := conf.From
	twimlURL := r.webhookURL(conf.TwiMLPath())
	if err := r.persist(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	// The gateway call happens outside the registry lock; the platform
	// may deliver callbacks before PlaceCall even returns.
	_, err = r.gateway.PlaceCall(ctx, voice.Call{To: to, From: from, TwiMLURL: twimlURL})
	if err != nil {
		return fmt.Errorf("dialing %s into conference %d: %w", to.E164(), id, err)
	}
	return nil
}

// ParticipantTwiML builds the verbs for one participant's leg: their
// intro clip, then the conference dial with hold music and lifecycle
// callbacks.
func (r *Registry) ParticipantTwiML(ctx context.Context, id int, caller phone.Number) ([]twiml.Element, error) {
	r.mu.Lock()
	conf, err := r.find(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	introID, hasIntro := conf.Intros[caller.E164()]
	name := conf.RoomName()
	statusURL := r.webhookURL(conf.StatusPath())
	r.mu.Unlock()

	var verbs []twiml.Element
	if hasIntro {
		intro, err := r.catalog.Asset(ctx, introID)
		if err != nil {
			return nil, fmt.Errorf("conference %d intro for %s: %w", id, caller.E164(), err)
		}
		verbs = append(verbs, &twiml.VoicePlay{Url: intro.URL, Loop: "1"})
	}

	holdMusic, err := r.catalog.Asset(ctx, r.holdMusicID)
	if err != nil {
		return nil, fmt.Errorf("conference %d hold music: %w", id, err)
	}

	verbs = append(verbs, &twiml.VoiceDial{
		InnerElements: []twiml.Element{
			&twiml.VoiceConference{
				Name:                name,
				StatusCallback:      statusURL,
				StatusCallbackEvent: statusCallbackEvents,
				WaitUrl:             holdMusic.URL,
				ParticipantLabel:    caller.E164(),
			},
		},
	})
	return verbs, nil
}

// HandleStatusEvent applies one lifecycle callback. The first callback
// teaches us the platform SID; join/leave track participants; start
// stamps the start time. The narrative's handler runs last.
func (r *Registry) HandleStatusEvent(ctx context.Context, id int, form url.Values) error {
	r.mu.Lock()

	conf, err := r.find(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	eventName := form.Get("StatusCallbackEvent")
	participant := form.Get("ParticipantLabel")
	confSID := form.Get("ConferenceSid")
	r.logger.Debug("conference event", "conference", id, "event", eventName, "participant", participant)

	dirty := false
	if conf.SID == "" && confSID != "" {
		conf.SID = confSID
		dirty = true
	}

	if participant != "" {
		switch eventName {
		case "participant-join":
			conf.Participants[participant] = StatusActive
			dirty = true
		case "participant-leave":
			conf.Participants[participant] = StatusLeft
			dirty = true
		}
	}

	if eventName == "conference-start" && conf.Started == nil {
		now := time.Now()
		conf.Started = &now
		dirty = true
	}

	if dirty {
		if err := r.persist(ctx); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	handler := r.handler
	snapshot := conf.Clone()
	r.mu.Unlock()

	if handler != nil {
		event := Event{Conference: snapshot, Name: eventName, Participant: participant}
		if err := handler.HandleConferenceEvent(ctx, event); err != nil {
			return fmt.Errorf("conference %d event %s: %w", id, eventName, err)
		}
	}
	return nil
}

// Play plays an asset to everyone in a live conference.
func (r *Registry) Play(ctx context.Context, id, assetID int) error {
	conf, err := r.Get(id)
	if err != nil {
		return err
	}
	asset, err := r.catalog.Asset(ctx, assetID)
	if err != nil {
		return err
	}
	return r.gateway.PlayIntoConference(ctx, conf.SID, asset.URL)
}

// End tears down a live conference.
func (r *Registry) End(ctx context.Context, id int) error {
	conf, err := r.Get(id)
	if err != nil {
		return err
	}
	return r.gateway.EndConference(ctx, conf.SID)
}

func (r *Registry) find(id int) (*Conference, error) {
	for _, c := range r.conferences {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNoSuchConference, id)
}

func (r *Registry) persist(ctx context.Context) error {
	data, err := json.Marshal(r.conferences)
	if err != nil {
		return fmt.Errorf("encoding conference list: %w", err)
	}
	if err := r.store.Set(ctx, listKey, data); err != nil {
		return fmt.Errorf("saving conference list: %w", err)
	}
	return nil
}
