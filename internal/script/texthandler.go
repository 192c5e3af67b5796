package script

import (
	"context"

	"github.com/halpline/halpline/internal/player"
)

// TextHandler reacts to one inbound SMS from a player who is mid-script.
// Handlers must be idempotent: the platform may deliver a message twice.
type TextHandler interface {
	HandlerName() string
	HandleText(ctx context.Context, req *Request, shard *Shard, p *player.Player, info *player.ScriptInfo) error
}
