package story

import (
	"context"

	"github.com/halpline/halpline/internal/conference"
	"github.com/halpline/halpline/internal/phone"
)

// HandleConferenceEvent reacts to first-conference lifecycle callbacks.
// When the conference starts, both players are marked as in it and as
// each other's partner for the ending. When a participant hangs up they
// get the decision text for their path.
func (n *Narrative) HandleConferenceEvent(ctx context.Context, event conference.Event) error {
	if event.Conference == nil || !event.Conference.From.Equal(n.numConference) {
		return nil
	}

	switch event.Name {
	case "conference-start":
		return n.conferenceStarted(ctx, event.Conference)
	case "participant-leave":
		return n.participantLeft(ctx, event.Participant)
	default:
		return nil
	}
}

func (n *Narrative) conferenceStarted(ctx context.Context, conf *conference.Conference) error {
	members := make([]phone.Number, 0, len(conf.Participants))
	for raw := range conf.Participants {
		num, err := phone.Parse(raw)
		if err != nil {
			return err
		}
		members = append(members, num)
	}
	if len(members) != 2 {
		n.logger.Warn("conference started with unexpected membership", "conference", conf.ID, "members", len(members))
		return nil
	}

	for i, num := range members {
		partner := members[1-i]
		p, err := n.players.Load(ctx, num)
		if err != nil {
			return err
		}
		info := p.Script(ScriptName)
		if info == nil {
			continue
		}
		data := scriptData(info)
		data[keyInFirstConference] = true
		data[keyEndingPartner] = partner.E164()
		if err := n.players.Save(ctx, p); err != nil {
			return err
		}
	}
	n.logger.Info("first conference started", "conference", conf.ID)
	return nil
}

func (n *Narrative) participantLeft(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	num, err := phone.Parse(raw)
	if err != nil {
		return err
	}
	p, err := n.players.Load(ctx, num)
	if err != nil {
		return err
	}
	info := p.Script(ScriptName)
	if info == nil {
		return nil
	}
	if !dataBool(info, keyInFirstConference) {
		// A leg that never made it into a started conference gets no
		// decision to make.
		return nil
	}

	scriptData(info)[keyHasDecisionText] = true
	if err := n.players.Save(ctx, p); err != nil {
		return err
	}

	msg := textClavaePostConfOptions
	if dataString(info, "path") == PathKaren {
		msg = textKarenPostConfOptions
	}
	return n.queueText(ctx, num, msg)
}
