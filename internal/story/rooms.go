package story

import (
	"context"
	"strconv"

	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/media"
	"github.com/halpline/halpline/internal/script"
)

// storyRoom is the common room shape: play the room's recording (chosen
// by the player's path when the room has one per path) inside a digit
// gather, after running an optional side-effect hook. A room with no
// recording just runs its hook and hangs up.
type storyRoom struct {
	n    *Narrative
	name string

	// gather wraps the recording in a DTMF prompt; gatherDigits is how
	// many digits to collect.
	gather       bool
	gatherDigits int

	// silent rooms have no recording at all; they exist for their hook.
	silent bool
	// say speaks a TTS line instead of playing a recording.
	say string
	// fixedAsset plays one specific asset instead of the room's
	// recordings.
	fixedAsset int

	// hook runs before the response is built. Shard and player mutations
	// land here.
	hook func(ctx context.Context, rc *script.Context) error

	resources []*media.Asset
}

func (n *Narrative) room(name string) *storyRoom {
	return &storyRoom{n: n, name: name, gather: true, gatherDigits: 1}
}

func (r *storyRoom) Name() string { return r.name }

// Load fetches the room's recordings from the catalog once at startup.
func (r *storyRoom) Load(ctx context.Context) error {
	if r.silent || r.say != "" {
		return nil
	}
	if r.fixedAsset != 0 {
		_, err := r.n.catalog.Asset(ctx, r.fixedAsset)
		return err
	}
	assets, err := r.n.catalog.ForRoom(ctx, r.name)
	if err != nil {
		return err
	}
	r.resources = assets
	return nil
}

func (r *storyRoom) NewPlayerChoice(ctx context.Context, digit string, rc *script.Context) error {
	return nil
}

// Action runs the hook and builds the room's voice response.
func (r *storyRoom) Action(ctx context.Context, rc *script.Context) ([]twiml.Element, error) {
	if r.hook != nil {
		if err := r.hook(ctx, rc); err != nil {
			return nil, err
		}
	}

	if r.say != "" {
		return []twiml.Element{&twiml.VoiceSay{Message: r.say}}, nil
	}

	asset, err := r.audio(ctx, rc)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		// Hook-only room: take the action and hang up on the player.
		return []twiml.Element{&twiml.VoiceHangup{}}, nil
	}

	play := &twiml.VoicePlay{Url: asset.URL, Loop: "1"}
	if !r.gather {
		return []twiml.Element{play}, nil
	}
	return []twiml.Element{&twiml.VoiceGather{
		NumDigits:           strconv.Itoa(r.gatherDigits),
		Method:              "POST",
		ActionOnEmptyResult: "true",
		InnerElements:       []twiml.Element{play},
	}}, nil
}

// audio picks the recording for this visit: the room's only recording,
// or the one tagged with the player's path.
func (r *storyRoom) audio(ctx context.Context, rc *script.Context) (*media.Asset, error) {
	if r.silent {
		return nil, nil
	}
	if r.fixedAsset != 0 {
		return r.n.catalog.Asset(ctx, r.fixedAsset)
	}
	if len(r.resources) == 1 {
		return r.resources[0], nil
	}
	for _, asset := range r.resources {
		if asset.Path == rc.Path() {
			return asset, nil
		}
	}
	return nil, nil
}
