package story

import (
	"context"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/script"
)

// Reduce is the matchmaker. It runs inside the state manager's lock
// after every shard integration: while both waiting queues have someone
// at the head, the pair moves to the in-conference lists and a
// coordinator task takes over.
func (n *Narrative) Reduce(ctx context.Context, state *script.State, shard *script.Shard) error {
	for len(state.Lists[fieldClavaeWaiting]) > 0 && len(state.Lists[fieldKarenWaiting]) > 0 {
		rawClavae := state.Lists[fieldClavaeWaiting][0]
		rawKaren := state.Lists[fieldKarenWaiting][0]

		clavae, err := phone.Parse(rawClavae)
		if err != nil {
			return err
		}
		karen, err := phone.Parse(rawKaren)
		if err != nil {
			return err
		}

		state.Lists[fieldClavaeWaiting] = state.Lists[fieldClavaeWaiting][1:]
		state.Lists[fieldKarenWaiting] = state.Lists[fieldKarenWaiting][1:]
		state.Lists[fieldClavaeInConf] = append(state.Lists[fieldClavaeInConf], rawClavae)
		state.Lists[fieldKarenInConf] = append(state.Lists[fieldKarenInConf], rawKaren)

		pair := pairing{Clavae: clavae, Karen: karen}
		n.logger.Info("matched a pair", "pair", pair.String())
		if err := n.queue.Submit(ctx, startPairTask{n: n, pair: pair}); err != nil {
			return err
		}
	}
	return nil
}
