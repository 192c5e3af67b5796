package story

import (
	"context"

	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/script"
)

// Room names. These double as the CMS tags the catalog resolves
// recordings by, so they must match the CMS exactly (misspellings
// included).
const (
	roomTipLineStart     = "Tip Line Start"
	roomTipLineRecruit   = "Tip Line Recruit"
	roomTipLineQuiz1     = "Tip Line Quiz 1"
	roomTipLineQuiz2     = "Tip Line Quiz 2"
	roomTipLineQuiz3     = "Tip Line Quiz 3"
	roomTipLineResults   = "Tip Line Quiz Results"
	roomTipLineOrient    = "Tip Line Quiz Orientation"
	roomTipLineKarenText = "Tip Line Karen Text"
	roomTipLineTip1      = "Tip Line Tip 1"
	roomTipLineTip2      = "Tip Line Tip 2"
	roomTipLineClavae    = "Tip Line Clavae"

	roomKarenInitiation = "Telemarketopia Initiation"
	roomKarenAccepted   = "Accepted Initialaiton"

	roomClavaeAppeal = "First Clavae Appeal"
	roomClavaeAccept = "First Clavae Accepted"

	roomDatabasePassword   = "Database Password"
	roomDatabaseMenu       = "Database Menu"
	roomDatabaseClassified = "Database Classified Files"
	roomDatabaseSecretMemo = "Database Secret Memo"
	roomDatabaseAIStart    = "Database AI Start"
	roomDatabaseArrivals   = "Database AI New Arrivals"
	roomDatabaseDepartures = "Database AI Departures"
	roomDatabaseThirdCall  = "Database AI Third Call"
	roomDatabaseCorrupted  = "Database File Corrupted"
	roomGhost              = "Ghost"

	roomPreOath      = "Telemarketopia Oath"
	roomOath         = "Telemarketopia Promotion 1"
	roomAcceptPromo  = "Telemarketopia Accept Recruit"
	roomQueueForConf = "Telemarketopia Karen Queue For Conf"

	roomPleaseWait = "Please Wait Room"
)

// assignPath puts a first-time caller on whichever path has fewer
// players, keeping the two queues balanced.
func (n *Narrative) assignPath(ctx context.Context, rc *script.Context) error {
	if rc.Path() != "" {
		return nil
	}
	clavae, err := rc.Shard.Get(fieldClavaePlayers)
	if err != nil {
		return err
	}
	karen, err := rc.Shard.Get(fieldKarenPlayers)
	if err != nil {
		return err
	}

	caller := rc.Player.Number.E164()
	if len(clavae) <= len(karen) {
		rc.SetPath(PathClavae)
		return rc.Shard.Append(fieldClavaePlayers, false, caller)
	}
	rc.SetPath(PathKaren)
	return rc.Shard.Append(fieldKarenPlayers, false, caller)
}

// queueForConference appends the caller to their path's conference queue
// and texts them that a pairing is coming.
func (n *Narrative) queueForConference(field string) func(ctx context.Context, rc *script.Context) error {
	return func(ctx context.Context, rc *script.Context) error {
		if err := rc.Shard.Append(field, false, rc.Player.Number.E164()); err != nil {
			return err
		}
		return n.queueText(ctx, rc.Player.Number, textConfWait)
	}
}

func (n *Narrative) textHook(msg text) func(ctx context.Context, rc *script.Context) error {
	return func(ctx context.Context, rc *script.Context) error {
		return n.queueText(ctx, rc.Player.Number, msg)
	}
}

func (n *Narrative) tipLineScene() *script.Scene {
	start := n.room(roomTipLineStart)
	start.hook = n.assignPath

	karenText := n.room(roomTipLineKarenText)
	karenText.silent = true
	karenText.hook = n.textHook(textKaren1)

	clavaeText := n.room(roomTipLineClavae)
	clavaeText.silent = true
	clavaeText.hook = n.textHook(textClavae1)

	return script.NewScene("Telemarketopia Tip Line Scene",
		[]string{roomTipLineStart},
		script.Choices{
			roomTipLineStart: {
				PathClavae: {
					"1":              {roomTipLineTip1},
					"2":              {roomTipLineTip2},
					"6":              {roomTipLineClavae},
					script.AnyChoice: {roomTipLineStart},
				},
				PathKaren: {
					"1":              {roomTipLineTip1},
					"2":              {roomTipLineTip2},
					"5":              {roomTipLineRecruit},
					script.AnyChoice: {roomTipLineStart},
				},
			},
			roomTipLineRecruit: {
				PathKaren: {"5": {roomTipLineQuiz1}},
			},
			roomTipLineQuiz1: {
				PathKaren: {script.AnyChoice: {roomTipLineQuiz2}},
			},
			roomTipLineQuiz2: {
				PathKaren: {script.AnyChoice: {roomTipLineQuiz3}},
			},
			roomTipLineQuiz3: {
				PathKaren: {script.AnyChoice: {roomTipLineResults}},
			},
			roomTipLineResults: {
				PathKaren: {script.AnyChoice: {roomTipLineOrient}},
			},
			roomTipLineOrient: {
				PathKaren: {script.AnyChoice: {roomTipLineKarenText}},
			},
			roomTipLineTip1: {
				script.AnyChoice: {script.AnyChoice: {roomTipLineStart}},
			},
			roomTipLineTip2: {
				script.AnyChoice: {script.AnyChoice: {roomTipLineStart}},
			},
		},
		start,
		n.room(roomTipLineRecruit),
		n.room(roomTipLineQuiz1),
		n.room(roomTipLineQuiz2),
		n.room(roomTipLineQuiz3),
		n.room(roomTipLineResults),
		n.room(roomTipLineOrient),
		karenText,
		n.room(roomTipLineTip1),
		n.room(roomTipLineTip2),
		clavaeText,
	)
}

func (n *Narrative) initiationScene() *script.Scene {
	accepted := n.room(roomKarenAccepted)
	accepted.gather = false
	accepted.silent = true
	accepted.hook = n.textHook(textKaren2)

	return script.NewScene("Karen Initiation",
		[]string{roomKarenInitiation, roomKarenAccepted},
		script.Choices{},
		n.room(roomKarenInitiation),
		accepted,
	)
}

func (n *Narrative) clavaeAsksScene() *script.Scene {
	accept := n.room(roomClavaeAccept)
	accept.hook = n.textHook(textClavae2)

	return script.NewScene("Clavae Asks For Help",
		[]string{roomClavaeAppeal},
		script.Choices{
			roomClavaeAppeal: {
				PathClavae: {
					"1":              {roomClavaeAccept},
					script.AnyChoice: {roomClavaeAppeal},
				},
			},
		},
		n.room(roomClavaeAppeal),
		accept,
	)
}

func (n *Narrative) databaseScene() *script.Scene {
	password := n.room(roomDatabasePassword)
	password.gatherDigits = 5

	corrupted := n.room(roomDatabaseCorrupted)
	corrupted.gather = false

	ghost := n.room(roomGhost)
	ghost.gather = false
	ghost.fixedAsset = assetPuppetMaster

	thirdCall := n.room(roomDatabaseThirdCall)
	thirdCall.hook = n.queueForConference(fieldClavaeWaiting)

	return script.NewScene("Database",
		[]string{roomDatabasePassword},
		script.Choices{
			roomDatabasePassword: {
				PathClavae: {
					"02501":          {roomGhost, roomDatabasePassword},
					"12610":          {roomDatabaseMenu},
					script.AnyChoice: {roomDatabasePassword},
				},
			},
			roomDatabaseMenu: {
				PathClavae: {
					"1":              {roomDatabaseClassified},
					"2":              {roomDatabaseSecretMemo},
					"3":              {roomDatabaseAIStart},
					script.AnyChoice: {roomDatabaseMenu},
				},
			},
			roomDatabaseClassified: {
				PathClavae: {
					"1":              {roomDatabaseCorrupted, roomDatabaseMenu},
					"2":              {roomDatabaseCorrupted, roomDatabaseMenu},
					script.AnyChoice: {roomDatabaseMenu},
				},
			},
			roomDatabaseAIStart: {
				PathClavae: {
					"1":              {roomDatabaseArrivals},
					"2":              {roomDatabaseDepartures},
					script.AnyChoice: {roomDatabaseAIStart},
				},
			},
			roomDatabaseArrivals: {
				PathClavae: {
					"2":              {roomDatabaseDepartures},
					script.AnyChoice: {roomDatabaseAIStart},
				},
			},
			roomDatabaseDepartures: {
				PathClavae: {
					"1":              {roomDatabaseThirdCall},
					script.AnyChoice: {roomDatabaseDepartures},
				},
			},
		},
		password,
		n.room(roomDatabaseMenu),
		n.room(roomDatabaseClassified),
		n.room(roomDatabaseSecretMemo),
		n.room(roomDatabaseAIStart),
		n.room(roomDatabaseArrivals),
		n.room(roomDatabaseDepartures),
		thirdCall,
		corrupted,
		ghost,
	)
}

func (n *Narrative) promotionScene() *script.Scene {
	queueRoom := n.room(roomQueueForConf)
	queueRoom.hook = n.queueForConference(fieldKarenWaiting)

	return script.NewScene("Telemarketopia Promotion",
		[]string{roomPreOath},
		script.Choices{
			roomPreOath: {
				PathKaren: {
					"1":              {roomOath},
					script.AnyChoice: {roomPreOath},
				},
			},
			roomOath: {
				PathKaren: {
					"1":              {roomAcceptPromo},
					script.AnyChoice: {roomOath},
				},
			},
			roomAcceptPromo: {
				PathKaren: {
					"1":              {roomQueueForConf},
					script.AnyChoice: {roomAcceptPromo},
				},
			},
		},
		n.room(roomPreOath),
		n.room(roomOath),
		n.room(roomAcceptPromo),
		queueRoom,
	)
}

func (n *Narrative) pleaseWaitScene() *script.Scene {
	wait := n.room(roomPleaseWait)
	wait.gather = false
	wait.say = "Thank you for expressing your interest in more Telemarketopia! You will get more Telemarketopia shortly."

	return script.NewScene("PleaseWaitScene", []string{roomPleaseWait}, script.Choices{}, wait)
}

// structure is the narrative's call map: script state, then dialed
// number, to the scene that plays and the state that follows it.
func (n *Narrative) structure() script.Structure {
	pleaseWait := script.SceneAndState{Scene: n.pleaseWaitScene(), NextState: script.IgnoreChange}

	return script.Structure{
		script.StateNew: {
			phone.Exact(n.numTipLine): {Scene: n.tipLineScene(), NextState: statePathAssigned},
		},
		statePathAssigned: {
			phone.Exact(n.numKaren1):  {Scene: n.initiationScene(), NextState: stateSecondCallDone},
			phone.Exact(n.numClavae1): {Scene: n.clavaeAsksScene(), NextState: stateSecondCallDone},
		},
		stateSecondCallDone: {
			phone.Exact(n.numKaren2):  {Scene: n.promotionScene(), NextState: stateWaitingForConf},
			phone.Exact(n.numClavae2): {Scene: n.databaseScene(), NextState: stateWaitingForConf},
		},
		stateWaitingForConf: {
			phone.Exact(n.numClavae1): pleaseWait,
			phone.Exact(n.numClavae2): pleaseWait,
			phone.Exact(n.numKaren1):  pleaseWait,
			phone.Exact(n.numKaren2):  pleaseWait,
		},
	}
}
