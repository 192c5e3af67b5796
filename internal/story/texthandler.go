package story

import (
	"context"
	"strings"
	"time"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
	"github.com/halpline/halpline/internal/script"
)

// conferenceChecker watches the two SMS-driven decision points: a reply
// to the conference line, which is either a readiness ping or a
// post-conference ending choice, and the final passcode text.
type conferenceChecker struct {
	n *Narrative
}

func (c conferenceChecker) HandlerName() string { return "conference-checker" }

func (c conferenceChecker) HandleText(ctx context.Context, req *script.Request, shard *script.Shard, p *player.Player, info *player.ScriptInfo) error {
	switch {
	case req.Dialed.Equal(c.n.numConference):
		return c.conferenceReply(ctx, req, p, info)
	case req.Dialed.Equal(c.n.numFinal):
		return c.finalAnswer(ctx, req, p, info)
	default:
		c.n.logger.Warn("text to a number with no handler", "dialed", req.Dialed.E164(), "player", req.Caller.E164())
		return nil
	}
}

// conferenceReply stamps readiness before the conference, and records
// the player's ending choice after it.
func (c conferenceChecker) conferenceReply(ctx context.Context, req *script.Request, p *player.Player, info *player.ScriptInfo) error {
	data := scriptData(info)

	if !dataBool(info, keyInFirstConference) {
		data[keyReadyForConf] = time.Now().UTC().Format(time.RFC3339)
		c.n.logger.Info("player ready for conference", "player", req.Caller.E164())
		return nil
	}

	if !dataBool(info, keyHasDecisionText) {
		// Mid-conference chatter, nothing to record yet.
		return nil
	}

	if dataBool(info, keyClimaxQueued) {
		// The climax calls are already on their way; a redelivered text
		// changes nothing.
		return nil
	}

	choice := strings.TrimSpace(req.Body)
	data[keyFinalChoice] = choice
	c.n.logger.Info("player made ending choice", "player", req.Caller.E164(), "choice", choice)

	partnerRaw := dataString(info, keyEndingPartner)
	if partnerRaw == "" {
		return nil
	}
	partnerNum, err := phone.Parse(partnerRaw)
	if err != nil {
		return err
	}
	partner, err := c.n.players.Load(ctx, partnerNum)
	if err != nil {
		return err
	}
	partnerInfo := partner.Script(ScriptName)
	if partnerInfo == nil || dataString(partnerInfo, keyFinalChoice) == "" {
		return nil
	}

	// Both halves of the pair have chosen; the climax calls go out
	// clavae-first. Each side's queued flag blocks redeliveries from
	// firing a second round.
	data[keyClimaxQueued] = true
	if err := c.n.markQueued(ctx, partnerNum, keyClimaxQueued); err != nil {
		return err
	}
	pair := pairing{}
	if dataString(info, "path") == PathClavae {
		pair.Clavae, pair.Karen = req.Caller, partnerNum
	} else {
		pair.Clavae, pair.Karen = partnerNum, req.Caller
	}
	return c.n.queue.Submit(ctx, &climaxCallsTask{n: c.n, pair: pair})
}

// finalAnswer settles the last puzzle: texting the passcode to the final
// number ends the whole story one way or the other.
func (c conferenceChecker) finalAnswer(ctx context.Context, req *script.Request, p *player.Player, info *player.ScriptInfo) error {
	if !dataBool(info, keyInFinalFinal) {
		c.n.logger.Warn("final answer from a player outside the finale", "player", req.Caller.E164())
		return nil
	}
	if dataBool(info, keyFinalResultQueued) {
		return nil
	}

	partnerRaw := dataString(info, keyEndingPartner)
	if partnerRaw == "" {
		return nil
	}
	partnerNum, err := phone.Parse(partnerRaw)
	if err != nil {
		return err
	}

	right := strings.TrimSpace(req.Body) == finalPasscode
	c.n.logger.Info("final passcode received", "player", req.Caller.E164(), "right", right)

	// The first answer settles it for both players.
	scriptData(info)[keyFinalResultQueued] = true
	if err := c.n.markQueued(ctx, partnerNum, keyFinalResultQueued); err != nil {
		return err
	}
	return c.n.queue.Submit(ctx, &finalResultTask{n: c.n, players: []phone.Number{req.Caller, partnerNum}, right: right})
}
