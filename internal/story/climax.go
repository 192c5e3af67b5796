package story

import (
	"context"
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/voice"
)

// finalPasscode is the answer to the last puzzle, texted to the final
// number.
const finalPasscode = "462"

// endings maps a (clavae choice, karen choice) pair to the recording
// both players hear on their climax call.
var endings = map[[2]int]int{
	{1, 1}: assetEndA,
	{1, 2}: assetEndB,
	{1, 3}: assetEndC,
	{2, 1}: assetEndD,
	{2, 2}: assetEndE,
	{2, 3}: assetEndF,
	{3, 1}: assetEndG,
	{3, 2}: assetEndH,
	{3, 3}: assetEndJ,
}

// climaxCallsTask rings both players of a finished pair and plays them
// the ending their two choices selected. A double vote to destroy
// Telemarketopia opens the secret finale instead of ending the story.
type climaxCallsTask struct {
	n    *Narrative
	pair pairing
}

func (t *climaxCallsTask) Name() string { return "climax-calls" }

func (t *climaxCallsTask) Execute(ctx context.Context) error {
	clavaeChoice, err := t.choice(ctx, t.pair.Clavae)
	if err != nil {
		return err
	}
	karenChoice, err := t.choice(ctx, t.pair.Karen)
	if err != nil {
		return err
	}

	url := t.n.webhookURL(fmt.Sprintf("/climax/%d/%d", clavaeChoice, karenChoice))
	for _, to := range []phone.Number{t.pair.Clavae, t.pair.Karen} {
		if _, err := t.n.gateway.PlaceCall(ctx, voice.Call{To: to, From: t.n.numFinal, TwiMLURL: url}); err != nil {
			return fmt.Errorf("climax call to %s: %w", to.E164(), err)
		}
	}
	t.n.logger.Info("climax calls placed", "pair", t.pair.String(), "clavae", clavaeChoice, "karen", karenChoice)

	if clavaeChoice == 3 && karenChoice == 3 {
		return t.n.queue.Submit(ctx, &destroyTask{n: t.n, pair: t.pair})
	}
	return nil
}

// choice reads a player's recorded ending choice. Anything that is not
// a clean 1, 2, or 3 falls back to 1.
func (t *climaxCallsTask) choice(ctx context.Context, num phone.Number) (int, error) {
	p, err := t.n.players.Load(ctx, num)
	if err != nil {
		return 0, err
	}
	info := p.Script(ScriptName)
	if info == nil {
		return 1, nil
	}
	choice, err := strconv.Atoi(dataString(info, keyFinalChoice))
	if err != nil || choice < 1 || choice > 3 {
		return 1, nil
	}
	return choice, nil
}

// destroyTask opens the hidden finale for a pair who both chose to
// destroy Telemarketopia: each player gets the two final puzzle texts,
// both are dialed straight into one last conference, and the pair is
// recorded in the finale lists.
type destroyTask struct {
	n    *Narrative
	pair pairing
}

func (t *destroyTask) Name() string { return "destroy-telemarketopia" }

func (t *destroyTask) Execute(ctx context.Context) error {
	for _, msg := range []struct {
		to  phone.Number
		msg text
	}{
		{t.pair.Clavae, textClavaeFinalPuzzle1},
		{t.pair.Clavae, textClavaeFinalPuzzle2},
		{t.pair.Karen, textKarenFinalPuzzle1},
		{t.pair.Karen, textKarenFinalPuzzle2},
	} {
		if err := t.n.sendText(ctx, msg.to, msg.msg); err != nil {
			return err
		}
	}

	from, err := t.n.library.FromLabel(labelFinal)
	if err != nil {
		return err
	}
	conf, err := t.n.conferences.New(ctx, from)
	if err != nil {
		return fmt.Errorf("creating finale conference for %s: %w", t.pair, err)
	}
	if err := t.n.conferences.AddParticipant(ctx, conf.ID, t.pair.Clavae, 0); err != nil {
		return err
	}
	if err := t.n.conferences.AddParticipant(ctx, conf.ID, t.pair.Karen, 0); err != nil {
		return err
	}

	if err := t.markInFinale(ctx, t.pair.Clavae); err != nil {
		return err
	}
	if err := t.markInFinale(ctx, t.pair.Karen); err != nil {
		return err
	}

	shard, err := t.n.manager.NewShard(ctx)
	if err != nil {
		return err
	}
	if err := shard.Append(fieldClavaeFinal, false, t.pair.Clavae.E164()); err != nil {
		return err
	}
	if err := shard.Append(fieldKarenFinal, false, t.pair.Karen.E164()); err != nil {
		return err
	}
	t.n.logger.Info("finale opened", "pair", t.pair.String(), "conference", conf.ID)
	return shard.Integrate(ctx)
}

func (t *destroyTask) markInFinale(ctx context.Context, num phone.Number) error {
	p, err := t.n.players.Load(ctx, num)
	if err != nil {
		return err
	}
	info := p.Script(ScriptName)
	if info == nil {
		return nil
	}
	scriptData(info)[keyInFinalFinal] = true
	return t.n.players.Save(ctx, p)
}

// finalResultTask rings both finalists with the verdict on their
// passcode.
type finalResultTask struct {
	n       *Narrative
	players []phone.Number
	right   bool
}

func (t *finalResultTask) Name() string { return "final-result-calls" }

func (t *finalResultTask) Execute(ctx context.Context) error {
	result := "wrong"
	if t.right {
		result = "right"
	}
	url := t.n.webhookURL("/finalclimax/" + result)
	for _, to := range t.players {
		if _, err := t.n.gateway.PlaceCall(ctx, voice.Call{To: to, From: t.n.numFinal, TwiMLURL: url}); err != nil {
			return fmt.Errorf("final result call to %s: %w", to.E164(), err)
		}
	}
	return nil
}

// Climax resolves a choice pair to its ending playlist.
func (n *Narrative) Climax(ctx context.Context, clavaeChoice, karenChoice int) ([]twiml.Element, error) {
	id, ok := endings[[2]int{clavaeChoice, karenChoice}]
	if !ok {
		return nil, fmt.Errorf("no ending for choices %d/%d", clavaeChoice, karenChoice)
	}
	return n.playlist(ctx, id)
}

// FinalClimax resolves the final puzzle's verdict to its playlist.
func (n *Narrative) FinalClimax(ctx context.Context, right bool) ([]twiml.Element, error) {
	if right {
		return n.playlist(ctx, assetEndI)
	}
	return n.playlist(ctx, assetEndJ)
}

func (n *Narrative) playlist(ctx context.Context, assetID int) ([]twiml.Element, error) {
	asset, err := n.catalog.Asset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return []twiml.Element{&twiml.VoicePlay{Url: asset.URL, Loop: "1"}}, nil
}
