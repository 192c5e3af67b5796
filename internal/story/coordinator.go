package story

import (
	"context"
	"fmt"
	"time"

	"github.com/halpline/halpline/internal/phone"
)

// pairing is one matched Clavae/Karen couple moving through the
// conference coordinator.
type pairing struct {
	Clavae phone.Number
	Karen  phone.Number
}

func (p pairing) String() string {
	return fmt.Sprintf("%s/%s", p.Clavae.E164(), p.Karen.E164())
}

// startPairTask opens a pairing: clear any stale conference flags, text
// both players the invite, and schedule the first readiness poll.
type startPairTask struct {
	n    *Narrative
	pair pairing
}

func (t startPairTask) Name() string { return "conference-invite" }

func (t startPairTask) Execute(ctx context.Context) error {
	if err := t.n.clearConferenceFlags(ctx, t.pair.Clavae); err != nil {
		return err
	}
	if err := t.n.clearConferenceFlags(ctx, t.pair.Karen); err != nil {
		return err
	}

	if err := t.n.sendText(ctx, t.pair.Clavae, textConfReady); err != nil {
		return err
	}
	if err := t.n.sendText(ctx, t.pair.Karen, textConfReady); err != nil {
		return err
	}

	t.n.logger.Info("conference invites sent", "pair", t.pair.String())
	return t.n.queue.Submit(ctx, &waitForPlayersTask{
		n:        t.n,
		pair:     t.pair,
		delay:    t.n.timings.FirstPoll,
		elapsed:  t.n.timings.FirstPoll,
		retexted: make(map[string]bool),
	})
}

// waitForPlayersTask polls both players' readiness until they have both
// replied, re-texting each of them once, and gives up after the
// configured window.
type waitForPlayersTask struct {
	n        *Narrative
	pair     pairing
	delay    time.Duration
	elapsed  time.Duration
	retexted map[string]bool
}

func (t *waitForPlayersTask) Name() string { return "conference-wait-for-players" }

func (t *waitForPlayersTask) Delay() time.Duration { return t.delay }

func (t *waitForPlayersTask) Execute(ctx context.Context) error {
	clavaeReady, err := t.n.ready(ctx, t.pair.Clavae)
	if err != nil {
		return err
	}
	karenReady, err := t.n.ready(ctx, t.pair.Karen)
	if err != nil {
		return err
	}

	if err := t.maybeRetext(ctx, clavaeReady, t.pair.Clavae); err != nil {
		return err
	}
	if err := t.maybeRetext(ctx, karenReady, t.pair.Karen); err != nil {
		return err
	}

	if !clavaeReady || !karenReady {
		if t.elapsed < t.n.timings.GiveUp {
			return t.n.queue.Submit(ctx, &waitForPlayersTask{
				n:        t.n,
				pair:     t.pair,
				delay:    t.n.timings.RePoll,
				elapsed:  t.elapsed + t.n.timings.RePoll,
				retexted: t.retexted,
			})
		}
		t.n.logger.Info("pair never got ready, returning to queue", "pair", t.pair.String())
		return t.n.queue.Submit(ctx, &returnPlayersTask{n: t.n, pair: t.pair})
	}

	from, err := t.n.library.FromLabel(labelConference)
	if err != nil {
		return err
	}
	conf, err := t.n.conferences.New(ctx, from)
	if err != nil {
		return fmt.Errorf("creating conference for %s: %w", t.pair, err)
	}
	if err := t.n.conferences.AddParticipant(ctx, conf.ID, t.pair.Clavae, assetClavaeConferenceIntro); err != nil {
		return err
	}
	if err := t.n.conferences.AddParticipant(ctx, conf.ID, t.pair.Karen, assetKarenConferenceInfo); err != nil {
		return err
	}

	t.n.logger.Info("pair ready, dialing conference", "pair", t.pair.String(), "conference", conf.ID)
	return t.n.queue.Submit(ctx, &connectTask{
		n:      t.n,
		pair:   t.pair,
		confID: conf.ID,
		delay:  t.n.timings.ConnectWait,
	})
}

func (t *waitForPlayersTask) maybeRetext(ctx context.Context, ready bool, num phone.Number) error {
	if ready || t.elapsed <= t.n.timings.Retext || t.retexted[num.E164()] {
		return nil
	}
	t.retexted[num.E164()] = true
	return t.n.sendText(ctx, num, textConfReadyTwo)
}

// connectTask checks, after the dial-out grace period, that the
// conference actually started; if not the pair goes back to their
// queues. A started conference gets a nudge clip later if both players
// are still on the line.
type connectTask struct {
	n      *Narrative
	pair   pairing
	confID int
	delay  time.Duration
}

func (t *connectTask) Name() string { return "conference-connect" }

func (t *connectTask) Delay() time.Duration { return t.delay }

func (t *connectTask) Execute(ctx context.Context) error {
	conf, err := t.n.conferences.Get(t.confID)
	if err != nil {
		return err
	}
	if !conf.HasStarted() {
		t.n.logger.Info("conference never started, returning pair", "pair", t.pair.String(), "conference", t.confID)
		return t.n.queue.Submit(ctx, &returnPlayersTask{n: t.n, pair: t.pair, confID: t.confID})
	}
	return t.n.queue.Submit(ctx, &nudgeTask{n: t.n, confID: t.confID, delay: t.n.timings.Nudge})
}

// nudgeTask plays the wrap-it-up clip into a conference that still has
// both players talking.
type nudgeTask struct {
	n      *Narrative
	confID int
	delay  time.Duration
}

func (t *nudgeTask) Name() string { return "conference-nudge" }

func (t *nudgeTask) Delay() time.Duration { return t.delay }

func (t *nudgeTask) Execute(ctx context.Context) error {
	conf, err := t.n.conferences.Get(t.confID)
	if err != nil {
		return err
	}
	if conf.ActiveCount() <= 1 {
		return nil
	}
	return t.n.conferences.Play(ctx, t.confID, assetConferenceNudge)
}

// returnPlayersTask aborts a pairing: tear down any conference, move
// both players from the in-conference lists back to their waiting
// queues (to the front if they had replied), clear their flags, text
// them what happened, and re-run matchmaking.
type returnPlayersTask struct {
	n      *Narrative
	pair   pairing
	confID int
}

func (t *returnPlayersTask) Name() string { return "conference-return-players" }

func (t *returnPlayersTask) Execute(ctx context.Context) error {
	clavaeReady, err := t.n.ready(ctx, t.pair.Clavae)
	if err != nil {
		return err
	}
	karenReady, err := t.n.ready(ctx, t.pair.Karen)
	if err != nil {
		return err
	}

	if t.confID != 0 {
		if conf, err := t.n.conferences.Get(t.confID); err == nil {
			if conf.SID != "" {
				if err := t.n.conferences.End(ctx, t.confID); err != nil {
					t.n.logger.Error("ending abandoned conference", "conference", t.confID, "error", err)
				}
			}
			if err := t.n.conferences.Remove(ctx, t.confID); err != nil {
				t.n.logger.Error("removing abandoned conference", "conference", t.confID, "error", err)
			}
		}
	}

	shard, err := t.n.manager.NewShard(ctx)
	if err != nil {
		return err
	}
	// Only a player still parked in the in-conference list moves back; a
	// concurrent return already handled anyone else.
	if err := moveIfMember(shard, fieldClavaeInConf, fieldClavaeWaiting, t.pair.Clavae, clavaeReady); err != nil {
		return err
	}
	if err := moveIfMember(shard, fieldKarenInConf, fieldKarenWaiting, t.pair.Karen, karenReady); err != nil {
		return err
	}

	if err := t.n.clearConferenceFlags(ctx, t.pair.Clavae); err != nil {
		return err
	}
	if err := t.n.clearConferenceFlags(ctx, t.pair.Karen); err != nil {
		return err
	}

	if err := t.unreadyText(ctx, clavaeReady, t.pair.Clavae); err != nil {
		return err
	}
	if err := t.unreadyText(ctx, karenReady, t.pair.Karen); err != nil {
		return err
	}

	return shard.Integrate(ctx)
}

func (t *returnPlayersTask) unreadyText(ctx context.Context, replied bool, num phone.Number) error {
	msg := textConfUnreadyIfReply
	if !replied {
		msg = textConfUnreadyIfNoReply
	}
	return t.n.sendText(ctx, num, msg)
}

func moveIfMember(shard interface {
	Get(field string) ([]string, error)
	Move(from, to string, atFront bool, values ...string) error
}, from, to string, num phone.Number, atFront bool) error {
	members, err := shard.Get(from)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member == num.E164() {
			return shard.Move(from, to, atFront, num.E164())
		}
	}
	return nil
}
