package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioGateway implements Gateway over the Twilio REST API. The client
// is not safe for concurrent use, so one mutex serializes all calls.
type TwilioGateway struct {
	mu     sync.Mutex
	client *twilio.RestClient
	logger *slog.Logger
}

// NewTwilioGateway builds a gateway from account credentials.
func NewTwilioGateway(accountSID, authToken string, logger *slog.Logger) *TwilioGateway {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioGateway{
		client: client,
		logger: logger.With("subsystem", "voice"),
	}
}

func (g *TwilioGateway) PlaceCall(ctx context.Context, call Call) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	params := &openapi.CreateCallParams{}
	params.SetTo(call.To.E164())
	params.SetFrom(call.From.E164())
	params.SetUrl(call.TwiMLURL)
	params.SetMethod("POST")

	resp, err := g.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("%w: placing call to %s: %v", ErrGateway, call.To.E164(), err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	g.logger.Info("placed call", "to", call.To.E164(), "sid", sid)
	return sid, nil
}

func (g *TwilioGateway) SendSMS(ctx context.Context, msg Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	params := &openapi.CreateMessageParams{}
	params.SetTo(msg.To.E164())
	params.SetFrom(msg.From.E164())
	params.SetBody(msg.Body)
	if msg.MediaURL != "" {
		params.SetMediaUrl([]string{msg.MediaURL})
	}

	if _, err := g.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("%w: sending sms to %s: %v", ErrGateway, msg.To.E164(), err)
	}
	g.logger.Info("sent sms", "to", msg.To.E164(), "media", msg.MediaURL != "")
	return nil
}

func (g *TwilioGateway) PlayIntoConference(ctx context.Context, conferenceSID, url string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	params := &openapi.UpdateConferenceParams{}
	params.SetAnnounceUrl(url)

	if _, err := g.client.Api.UpdateConference(conferenceSID, params); err != nil {
		return fmt.Errorf("%w: playing into conference %s: %v", ErrGateway, conferenceSID, err)
	}
	return nil
}

func (g *TwilioGateway) EndConference(ctx context.Context, conferenceSID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	params := &openapi.UpdateConferenceParams{}
	params.SetStatus("completed")

	if _, err := g.client.Api.UpdateConference(conferenceSID, params); err != nil {
		return fmt.Errorf("%w: ending conference %s: %v", ErrGateway, conferenceSID, err)
	}
	g.logger.Info("ended conference", "sid", conferenceSID)
	return nil
}
