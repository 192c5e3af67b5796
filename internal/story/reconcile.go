package story

import (
	"context"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/tasks"
)

// Reconciliation returns the startup task that repairs shared state
// after a crash or redeploy: anyone stranded mid-pairing goes back to
// the head of their waiting queue, and a number that somehow landed on
// both paths is evicted entirely so their next call starts fresh.
func (n *Narrative) Reconciliation() tasks.Task {
	return reconcileTask{n: n}
}

type reconcileTask struct {
	n *Narrative
}

func (t reconcileTask) Name() string { return "startup-reconcile" }

// Critical marks the task as one whose failure should page the
// operators.
func (t reconcileTask) Critical() bool { return true }

func (t reconcileTask) Execute(ctx context.Context) error {
	shard, err := t.n.manager.NewShard(ctx)
	if err != nil {
		return err
	}

	for _, lists := range [][2]string{
		{fieldClavaeInConf, fieldClavaeWaiting},
		{fieldKarenInConf, fieldKarenWaiting},
	} {
		stranded, err := shard.Get(lists[0])
		if err != nil {
			return err
		}
		if len(stranded) == 0 {
			continue
		}
		t.n.logger.Info("returning stranded players to queue", "list", lists[0], "count", len(stranded))
		if err := shard.Move(lists[0], lists[1], true, stranded...); err != nil {
			return err
		}
	}

	if err := t.evictDoubled(ctx, shard); err != nil {
		return err
	}
	return shard.Integrate(ctx)
}

// evictDoubled removes any number that appears on both paths' player
// lists. The record is unrecoverable (no way to tell which path is
// real), so the player is deleted and starts over on their next call.
func (t reconcileTask) evictDoubled(ctx context.Context, shard interface {
	Get(field string) ([]string, error)
	Remove(from string, values ...string) error
}) error {
	clavae, err := shard.Get(fieldClavaePlayers)
	if err != nil {
		return err
	}
	karen, err := shard.Get(fieldKarenPlayers)
	if err != nil {
		return err
	}

	onKaren := make(map[string]bool, len(karen))
	for _, raw := range karen {
		onKaren[raw] = true
	}

	for _, raw := range clavae {
		if !onKaren[raw] {
			continue
		}
		t.n.logger.Warn("player on both paths, evicting", "player", raw)
		if err := shard.Remove(fieldClavaePlayers, raw); err != nil {
			return err
		}
		if err := shard.Remove(fieldKarenPlayers, raw); err != nil {
			return err
		}
		num, err := phone.Parse(raw)
		if err != nil {
			return err
		}
		if err := t.n.players.Delete(ctx, num); err != nil {
			return err
		}
	}
	return nil
}
