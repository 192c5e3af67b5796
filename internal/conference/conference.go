// Package conference manages live phone conferences: the persisted set
// of active conference records, dialing participants in, the TwiML for
// each participant's leg, and the status callbacks the platform sends as
// people join and leave.
package conference

import (
	"fmt"
	"time"

	"github.com/halpline/halpline/internal/phone"
)

// Status is a participant's standing in a conference.
type Status string

const (
	StatusInvited Status = "invited"
	StatusActive  Status = "active"
	StatusLeft    Status = "left"
)

// Conference is one persisted conference record. The platform SID is
// unknown until the first status callback arrives.
type Conference struct {
	ID           int               `json:"id"`
	SID          string            `json:"sid"`
	From         phone.Number      `json:"from"`
	Participants map[string]Status `json:"participants"`
	// Intros maps a participant's E.164 to the asset played to them
	// before they join.
	Intros  map[string]int `json:"intros"`
	Started *time.Time     `json:"started,omitempty"`
}

// RoomName is the conference name on the platform side.
func (c *Conference) RoomName() string {
	return fmt.Sprintf("%d", c.ID)
}

// TwiMLPath is the webhook path serving each participant's leg.
func (c *Conference) TwiMLPath() string {
	return fmt.Sprintf("/conf/twiml/%d", c.ID)
}

// StatusPath is the webhook path receiving lifecycle callbacks.
func (c *Conference) StatusPath() string {
	return fmt.Sprintf("/conf/status/%d", c.ID)
}

// HasStarted reports whether the platform announced conference-start.
func (c *Conference) HasStarted() bool {
	return c.Started != nil
}

// ActiveCount counts participants currently in the conference.
func (c *Conference) ActiveCount() int {
	n := 0
	for _, status := range c.Participants {
		if status == StatusActive {
			n++
		}
	}
	return n
}

// Clone deep-copies the record. The registry hands out clones so callers
// can read participant maps while later callbacks mutate the original
// under the registry lock.
func (c *Conference) Clone() *Conference {
	out := &Conference{
		ID:           c.ID,
		SID:          c.SID,
		From:         c.From,
		Participants: make(map[string]Status, len(c.Participants)),
		Intros:       make(map[string]int, len(c.Intros)),
	}
	for label, status := range c.Participants {
		out.Participants[label] = status
	}
	for label, asset := range c.Intros {
		out.Intros[label] = asset
	}
	if c.Started != nil {
		started := *c.Started
		out.Started = &started
	}
	return out
}
