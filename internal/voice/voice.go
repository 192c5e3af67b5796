// Package voice is the gateway to the telephony platform. Everything the
// story does out-of-band (placing calls, sending texts, steering live
// conferences) goes through the Gateway interface so the engine and its
// tests never touch the platform's REST API directly.
package voice

import (
	"context"
	"errors"

	"github.com/halpline/halpline/internal/phone"
)

// ErrGateway wraps every failure returned by a gateway implementation.
var ErrGateway = errors.New("voice gateway")

// Call describes an outbound call to place. The platform fetches call
// instructions from TwiMLURL once the callee answers.
type Call struct {
	To       phone.Number
	From     phone.Number
	TwiMLURL string
}

// Message describes an outbound SMS (or MMS when MediaURL is set).
type Message struct {
	To       phone.Number
	From     phone.Number
	Body     string
	MediaURL string
}

// Gateway is the outbound surface of the telephony platform.
type Gateway interface {
	// PlaceCall starts an outbound call and returns the platform call SID.
	PlaceCall(ctx context.Context, call Call) (string, error)
	SendSMS(ctx context.Context, msg Message) error
	// PlayIntoConference plays the audio behind url to every participant
	// of a live conference.
	PlayIntoConference(ctx context.Context, conferenceSID, url string) error
	// EndConference tears down a live conference, disconnecting everyone.
	EndConference(ctx context.Context, conferenceSID string) error
}
