// Package story is the Telemarketopia narrative: the rooms, scenes, and
// call structure of the three-act phone drama, the matchmaking reducer
// that pairs players across the two paths, the conference coordinator
// that herds a pair into a live call, and the climax orchestration that
// plays out their choices.
package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/halpline/halpline/internal/conference"
	"github.com/halpline/halpline/internal/media"
	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
	"github.com/halpline/halpline/internal/script"
	"github.com/halpline/halpline/internal/voice"
)

// ScriptName is the narrative's key in player records and shared state.
const ScriptName = "Telemarketopia"

// Script state labels between calls.
const (
	statePathAssigned   = "State_Path_Assigned"
	stateSecondCallDone = "State_Second_Call_Done"
	stateWaitingForConf = "State_Waiting_For_Conference"
)

// The two narrative paths. A player is assigned one on their first call
// and stays on it for the whole story.
const (
	PathClavae = "Clavae"
	PathKaren  = "Karen"
)

// Shared-state list fields.
const (
	fieldClavaePlayers = "clavae_players"
	fieldKarenPlayers  = "karen_players"
	fieldClavaeWaiting = "clavae_waiting_for_conf"
	fieldKarenWaiting  = "karen_waiting_for_conf"
	fieldClavaeInConf  = "clavae_in_conf"
	fieldKarenInConf   = "karen_in_conf"
	fieldClavaeFinal   = "clavae_final_conf"
	fieldKarenFinal    = "karen_final_conf"
)

// StateShape is the full set of shared-state lists. The state manager
// reshapes persisted records to it at load.
var StateShape = []string{
	fieldClavaePlayers,
	fieldKarenPlayers,
	fieldClavaeWaiting,
	fieldKarenWaiting,
	fieldClavaeInConf,
	fieldKarenInConf,
	fieldClavaeFinal,
	fieldKarenFinal,
}

// Per-player script data keys.
const (
	keyReadyForConf      = "player_responded_to_conf_invite"
	keyInFirstConference = "player_in_first_conference"
	keyHasDecisionText   = "player_has_decision_text"
	keyEndingPartner     = "ending_partner"
	keyFinalChoice       = "final_choice"
	keyInFinalFinal      = "player_in_final_final"
	keyClimaxQueued      = "climax_calls_queued"
	keyFinalResultQueued = "final_result_calls_queued"
)

// Outbound number labels in the numbers manifest.
const (
	labelTipLine    = "tipline"
	labelClavae1    = "clavae_1"
	labelClavae2    = "clavae_2"
	labelKaren1     = "karen_1"
	labelKaren2     = "karen_2"
	labelConference = "conference"
	labelFinal      = "final"
)

// Timings govern the conference coordinator. Tests shrink them.
type Timings struct {
	// FirstPoll is the pause between the invite texts and the first
	// readiness check.
	FirstPoll time.Duration
	// RePoll is the pause between readiness checks.
	RePoll time.Duration
	// Retext is how long to wait before texting an unresponsive player a
	// second time (once only).
	Retext time.Duration
	// GiveUp is how long to keep polling before returning the pair to
	// their queues.
	GiveUp time.Duration
	// ConnectWait is the pause after dial-out before checking that the
	// conference actually started.
	ConnectWait time.Duration
	// Nudge is how long after conference start to play the nudge clip.
	Nudge time.Duration
	// ReadyWindow is how recent a player's reply must be to count as
	// ready.
	ReadyWindow time.Duration
}

// DefaultTimings are the production values.
func DefaultTimings() Timings {
	return Timings{
		FirstPoll:   30 * time.Second,
		RePoll:      15 * time.Second,
		Retext:      5 * time.Minute,
		GiveUp:      10 * time.Minute,
		ConnectWait: 30 * time.Second,
		Nudge:       5 * time.Minute,
		ReadyWindow: 10 * time.Minute,
	}
}

// Deps is everything the narrative needs from the rest of the system.
type Deps struct {
	Manager     *script.Manager
	Players     *player.Store
	Library     *phone.Library
	Catalog     media.Catalog
	Gateway     voice.Gateway
	Queue       script.TaskQueue
	Conferences *conference.Registry
	// WebhookURL joins a callback path onto the public base URL.
	WebhookURL func(path string) string
	Timings    Timings
	Reporter   script.Reporter
	Logger     *slog.Logger
}

// Narrative owns the Telemarketopia script and its out-of-band
// orchestration. It implements the state manager's Reducer, the
// conference registry's EventHandler, and the api package's Playlists.
type Narrative struct {
	manager     *script.Manager
	players     *player.Store
	library     *phone.Library
	catalog     media.Catalog
	gateway     voice.Gateway
	queue       script.TaskQueue
	conferences *conference.Registry
	webhookURL  func(path string) string
	timings     Timings
	logger      *slog.Logger

	script *script.Script

	numTipLine    phone.Number
	numClavae1    phone.Number
	numClavae2    phone.Number
	numKaren1     phone.Number
	numKaren2     phone.Number
	numConference phone.Number
	numFinal      phone.Number
}

// New wires the narrative and installs its hooks on the state manager
// and the conference registry.
func New(deps Deps) (*Narrative, error) {
	n := &Narrative{
		manager:     deps.Manager,
		players:     deps.Players,
		library:     deps.Library,
		catalog:     deps.Catalog,
		gateway:     deps.Gateway,
		queue:       deps.Queue,
		conferences: deps.Conferences,
		webhookURL:  deps.WebhookURL,
		timings:     deps.Timings,
		logger:      deps.Logger.With("subsystem", "story"),
	}
	if n.timings == (Timings{}) {
		n.timings = DefaultTimings()
	}

	for _, bind := range []struct {
		label string
		num   *phone.Number
	}{
		{labelTipLine, &n.numTipLine},
		{labelClavae1, &n.numClavae1},
		{labelClavae2, &n.numClavae2},
		{labelKaren1, &n.numKaren1},
		{labelKaren2, &n.numKaren2},
		{labelConference, &n.numConference},
		{labelFinal, &n.numFinal},
	} {
		num, err := deps.Library.FromLabel(bind.label)
		if err != nil {
			return nil, fmt.Errorf("story numbers: %w", err)
		}
		*bind.num = num
	}

	n.script = script.NewScript(ScriptName, n.structure(), []script.TextHandler{conferenceChecker{n}},
		deps.Manager, deps.Players, deps.Queue, deps.Reporter, deps.Logger)
	deps.Manager.SetReducer(n)
	deps.Conferences.SetEventHandler(n)
	return n, nil
}

// Script returns the wired narrative script for the registry.
func (n *Narrative) Script() *script.Script { return n.script }

// AssetIDs returns every asset the narrative references, for catalog
// warm-up at startup.
func (n *Narrative) AssetIDs() []int {
	return []int{
		assetConferenceHoldMusic,
		assetTelemarketopiaLogo,
		assetKarenPuzzle1,
		assetClavaePuzzle1,
		assetKarenFinalPuzzle1,
		assetKarenFinalPuzzle2,
		assetClavaeFinalPuzzle1,
		assetClavaeFinalPuzzle2,
		assetClavaeConferenceIntro,
		assetKarenConferenceInfo,
		assetPuppetMaster,
		assetConferenceNudge,
		assetEndA, assetEndB, assetEndC, assetEndD, assetEndE,
		assetEndF, assetEndG, assetEndH, assetEndI, assetEndJ,
	}
}

// HoldMusicAssetID is what conference participants hear while waiting.
// Package level because the conference registry needs it before the
// narrative exists.
func HoldMusicAssetID() int { return assetConferenceHoldMusic }

// scriptData returns the player's script-level data bag, creating the
// script record if the player somehow lost it.
func scriptData(info *player.ScriptInfo) map[string]any {
	if info.Data == nil {
		info.Data = make(map[string]any)
	}
	return info.Data
}

func dataBool(info *player.ScriptInfo, key string) bool {
	v, _ := scriptData(info)[key].(bool)
	return v
}

func dataString(info *player.ScriptInfo, key string) string {
	v, _ := scriptData(info)[key].(string)
	return v
}

// ready reports whether the player replied to their conference invite
// within the ready window.
func (n *Narrative) ready(ctx context.Context, num phone.Number) (bool, error) {
	p, err := n.players.Load(ctx, num)
	if err != nil {
		return false, err
	}
	info := p.Script(ScriptName)
	if info == nil {
		return false, nil
	}
	raw := dataString(info, keyReadyForConf)
	if raw == "" {
		return false, nil
	}
	replied, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, nil
	}
	return time.Since(replied) < n.timings.ReadyWindow, nil
}

// clearConferenceFlags wipes a player's first-conference bookkeeping so
// a new pairing starts clean.
func (n *Narrative) clearConferenceFlags(ctx context.Context, num phone.Number) error {
	p, err := n.players.Load(ctx, num)
	if err != nil {
		return err
	}
	info := p.Script(ScriptName)
	if info == nil {
		return nil
	}
	data := scriptData(info)
	delete(data, keyReadyForConf)
	delete(data, keyInFirstConference)
	delete(data, keyHasDecisionText)
	return n.savePlayer(ctx, p)
}

// savePlayer persists a record, dropping the write when a concurrent
// writer already advanced the generation. The winner's data stands; a
// lost flag update is not worth stranding the rest of the step.
func (n *Narrative) savePlayer(ctx context.Context, p *player.Player) error {
	err := n.players.Save(ctx, p)
	if errors.Is(err, player.ErrStaleGeneration) {
		n.logger.Warn("player save lost a generation race", "player", p.Number.E164())
		return nil
	}
	return err
}

// markQueued stamps a dedupe flag on a player's record so their own
// redelivered text cannot fire the same task a second time.
func (n *Narrative) markQueued(ctx context.Context, num phone.Number, key string) error {
	p, err := n.players.Load(ctx, num)
	if err != nil {
		return err
	}
	info := p.Script(ScriptName)
	if info == nil {
		return nil
	}
	scriptData(info)[key] = true
	return n.savePlayer(ctx, p)
}
