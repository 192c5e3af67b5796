package script

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
)

// ErrNotLoaded is returned when a request's player is used before Load.
var ErrNotLoaded = errors.New("request player not loaded")

// PlayerLoader fetches the player record for a caller. The player store
// implements it.
type PlayerLoader interface {
	Load(ctx context.Context, number phone.Number) (*player.Player, error)
}

// Request is one inbound webhook from the voice platform, normalized
// from its form encoding.
type Request struct {
	Caller  phone.Number // From
	Dialed  phone.Number // To / Called
	Digits  string
	Body    string // SMS text
	SmsSID  string
	CallSID string

	player *player.Player
}

// ParseRequest reads the platform's form parameters. Voice and SMS
// webhooks share the shape; SMS adds Body and SmsSid.
func ParseRequest(r *http.Request) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing webhook form: %w", err)
	}

	caller, err := phone.Parse(r.Form.Get("From"))
	if err != nil {
		return nil, fmt.Errorf("webhook From: %w", err)
	}

	rawDialed := r.Form.Get("Called")
	if rawDialed == "" {
		rawDialed = r.Form.Get("To")
	}
	dialed, err := phone.Parse(rawDialed)
	if err != nil {
		return nil, fmt.Errorf("webhook To: %w", err)
	}

	return &Request{
		Caller:  caller,
		Dialed:  dialed,
		Digits:  r.Form.Get("Digits"),
		Body:    r.Form.Get("Body"),
		SmsSID:  r.Form.Get("SmsSid"),
		CallSID: r.Form.Get("CallSid"),
	}, nil
}

// Load fetches the caller's player record.
func (r *Request) Load(ctx context.Context, loader PlayerLoader) error {
	p, err := loader.Load(ctx, r.Caller)
	if err != nil {
		return err
	}
	r.player = p
	return nil
}

// Player returns the loaded record, or ErrNotLoaded before Load.
func (r *Request) Player() (*player.Player, error) {
	if r.player == nil {
		return nil, ErrNotLoaded
	}
	return r.player, nil
}
