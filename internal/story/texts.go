package story

import (
	"context"
	"fmt"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/tasks"
	"github.com/halpline/halpline/internal/voice"
)

// text is one outbound SMS template: the number label it is sent from,
// the body, and an optional MMS image asset.
type text struct {
	label string
	body  string
	image int
}

var (
	textClavae1 = text{
		label: labelClavae1,
		body:  "Call me at +1-510-256-7710 to learn the horrible truth about Babyface's Telemarketopia!\n - Clavae",
	}
	textClavae2 = text{
		label: labelClavae2,
		body:  "Once you fill this in, this puzzle should give you a five-digit code to get into the database at +1-510-256-7705!\n- Clavae",
		image: assetClavaePuzzle1,
	}
	textKaren1 = text{
		label: labelKaren1,
		body:  "Solving this puzzle will give you the next phone number to call and prove you're Telemarketopia material!",
		image: assetKarenPuzzle1,
	}
	textKaren2 = text{
		label: labelKaren2,
		body:  "Please call +1-510-256-7675 to continue learning about the exciting opportunities you'll have at Telemarketopia!",
		image: assetTelemarketopiaLogo,
	}

	textConfWait = text{
		label: labelConference,
		body:  "Our systems are working on bisecting the quantum lagrange points, we'll connect you as soon as we can!",
		image: assetTelemarketopiaLogo,
	}
	textConfReady = text{
		label: labelConference,
		body:  "HEY!\nHey.\nI've got that person you wanted to talk to! Just text back anything when you're ready!!",
		image: assetTelemarketopiaLogo,
	}
	textConfReadyTwo = text{
		label: labelConference,
		body:  "Are you still there? Send me any text at all back to us if you're ready and, if you aren't ready now, we'll try again later.",
	}
	textConfUnreadyIfReply = text{
		label: labelConference,
		body:  "Oh no, I'm sorry. It looks like the person we paired you up with was less enthusiastic than we expected. Give us some time to find someone else...",
		image: assetTelemarketopiaLogo,
	}
	textConfUnreadyIfNoReply = text{
		label: labelConference,
		body:  "Oh no! The lagrange solution has become inverted! We're going to have to wait a little longer.",
		image: assetTelemarketopiaLogo,
	}

	textKarenPostConfOptions = text{
		label: labelConference,
		body: "Text one of the following to decide what you will do next:\n" +
			"Text 1 if: I believe I have recruited the other team. Hooray! I will request a promotion from Telemarketopia!\n" +
			"Text 2 if: The other team has convinced me to open a Doortal to release Madame Clavae.\n" +
			"Text 3 if: Attempt to Destroy Telemarketopia!!",
		image: assetTelemarketopiaLogo,
	}
	textClavaePostConfOptions = text{
		label: labelConference,
		body: "Text one of the following to decide what you will do next:\n" +
			"Text 1 if: The other team has convinced me to join Telemarketopia! I release my body and go forth in search of personal gain and power.\n" +
			"Text 2 if: I believe I have convinced the other team to open a Doortal. Hooray! I'll tell Madame Clavae the good news.\n" +
			"Text 3 if: Attempt to Destroy Telemarketopia!!",
		image: assetTelemarketopiaLogo,
	}

	textClavaeFinalPuzzle1 = text{
		label: labelFinal,
		body:  finalPuzzleBody1,
		image: assetClavaeFinalPuzzle1,
	}
	textClavaeFinalPuzzle2 = text{
		label: labelFinal,
		body:  finalPuzzleBody2,
		image: assetClavaeFinalPuzzle2,
	}
	textKarenFinalPuzzle1 = text{
		label: labelFinal,
		body:  finalPuzzleBody1,
		image: assetKarenFinalPuzzle1,
	}
	textKarenFinalPuzzle2 = text{
		label: labelFinal,
		body:  finalPuzzleBody2,
		image: assetKarenFinalPuzzle2,
	}
)

const (
	finalPuzzleBody1 = "To break into the central AI Database and hit the manual self-destruct button, " +
		"you'll need to enter the correct passcode. Your only clues are these cryptic notes, " +
		"left inside one of the database passages."
	finalPuzzleBody2 = "You'll need to work together in another voice conference to finish. " +
		"One of your team needs to text the correct passcode (AND ONLY THE PASSCODE NUMBER) to +1-510-256-7740."
)

// sendText delivers one templated SMS through the gateway.
func (n *Narrative) sendText(ctx context.Context, to phone.Number, msg text) error {
	from, err := n.library.FromLabel(msg.label)
	if err != nil {
		return fmt.Errorf("text from %q: %w", msg.label, err)
	}
	mediaURL := ""
	if msg.image != 0 {
		asset, err := n.catalog.Asset(ctx, msg.image)
		if err != nil {
			return fmt.Errorf("text image %d: %w", msg.image, err)
		}
		mediaURL = asset.URL
	}
	return n.gateway.SendSMS(ctx, voice.Message{To: to, From: from, Body: msg.body, MediaURL: mediaURL})
}

// queueText sends the SMS from the task runner so webhook handlers never
// block on the platform's REST API.
func (n *Narrative) queueText(ctx context.Context, to phone.Number, msg text) error {
	return n.queue.Submit(ctx, tasks.Func{
		TaskName: "send-text",
		Fn: func(ctx context.Context) error {
			return n.sendText(ctx, to, msg)
		},
	})
}
