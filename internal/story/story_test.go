package story

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/conference"
	"github.com/halpline/halpline/internal/kv"
	"github.com/halpline/halpline/internal/media"
	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
	"github.com/halpline/halpline/internal/script"
	"github.com/halpline/halpline/internal/tasks"
	"github.com/halpline/halpline/internal/voice"
)

const testManifest = `[
	{"number": "+18337594257", "labels": ["tipline"], "capabilities": ["voice"]},
	{"number": "+15102567710", "labels": ["clavae_1"], "capabilities": ["voice", "sms", "mms"]},
	{"number": "+15102567705", "labels": ["clavae_2"], "capabilities": ["voice", "sms", "mms"]},
	{"number": "+15102567656", "labels": ["karen_1"], "capabilities": ["voice", "sms", "mms"]},
	{"number": "+15102567675", "labels": ["karen_2"], "capabilities": ["voice", "sms", "mms"]},
	{"number": "+15102567699", "labels": ["conference"], "capabilities": ["voice", "sms", "mms"]},
	{"number": "+15102567740", "labels": ["final"], "capabilities": ["voice", "sms", "mms"]}
]`

var (
	playerOne = phone.MustParse("+15105550001")
	playerTwo = phone.MustParse("+15105550002")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testTimings keep the coordinator's elapsed-time arithmetic readable.
// The step queue never sleeps, so real durations cost nothing.
func testTimings() Timings {
	return Timings{
		FirstPoll:   30 * time.Second,
		RePoll:      15 * time.Second,
		Retext:      40 * time.Second,
		GiveUp:      60 * time.Second,
		ConnectWait: time.Second,
		Nudge:       time.Second,
		ReadyWindow: time.Hour,
	}
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []voice.Call
	texts []voice.Message
	plays []string
	ended []string
}

func (f *fakeGateway) PlaceCall(ctx context.Context, call voice.Call) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return fmt.Sprintf("CA%d", len(f.calls)), nil
}

func (f *fakeGateway) SendSMS(ctx context.Context, msg voice.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, msg)
	return nil
}

func (f *fakeGateway) PlayIntoConference(ctx context.Context, sid, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, sid+" "+url)
	return nil
}

func (f *fakeGateway) EndConference(ctx context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sid)
	return nil
}

func (f *fakeGateway) textsWith(sub string) []voice.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var got []voice.Message
	for _, msg := range f.texts {
		if strings.Contains(msg.Body, sub) {
			got = append(got, msg)
		}
	}
	return got
}

func (f *fakeGateway) callsTo(urlSub string) []voice.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var got []voice.Call
	for _, call := range f.calls {
		if strings.Contains(call.TwiMLURL, urlSub) {
			got = append(got, call)
		}
	}
	return got
}

func (f *fakeGateway) lastTextTo(t *testing.T, num phone.Number) voice.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.texts) - 1; i >= 0; i-- {
		if f.texts[i].To.Equal(num) {
			return f.texts[i]
		}
	}
	t.Fatalf("no text sent to %s", num.E164())
	return voice.Message{}
}

// fakeCatalog resolves assets to deterministic URLs. Rooms named in
// pathRooms get one recording per narrative path.
type fakeCatalog struct {
	pathRooms map[string]bool
}

func (c fakeCatalog) Asset(ctx context.Context, id int) (*media.Asset, error) {
	return &media.Asset{ID: id, URL: fmt.Sprintf("https://cms.test/file/%d.mp3", id)}, nil
}

func (c fakeCatalog) ForRoom(ctx context.Context, room string) ([]*media.Asset, error) {
	if c.pathRooms[room] {
		return []*media.Asset{
			{ID: 1, URL: "https://cms.test/room/" + room + "/Clavae", Room: room, Path: PathClavae},
			{ID: 2, URL: "https://cms.test/room/" + room + "/Karen", Room: room, Path: PathKaren},
		}, nil
	}
	return []*media.Asset{{ID: 1, URL: "https://cms.test/room/" + room, Room: room}}, nil
}

// stepQueue collects tasks for the tests to run one at a time, so a test
// can interleave platform callbacks with coordinator steps. Delays are
// ignored.
type stepQueue struct {
	mu    sync.Mutex
	tasks []tasks.Task
}

func (q *stepQueue) Submit(ctx context.Context, task tasks.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *stepQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *stepQueue) step(ctx context.Context, t *testing.T) tasks.Task {
	t.Helper()
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		t.Fatal("no queued task")
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.mu.Unlock()
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("task %s error: %v", task.Name(), err)
	}
	return task
}

func (q *stepQueue) drain(ctx context.Context, t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if q.len() == 0 {
			return
		}
		q.step(ctx, t)
	}
	t.Fatal("queue never drained")
}

func testWebhookURL(path string) string { return "https://halpline.test" + path }

type harness struct {
	narrative   *Narrative
	conferences *conference.Registry
	players     *player.Store
	manager     *script.Manager
	gateway     *fakeGateway
	queue       *stepQueue
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithCatalog(t, fakeCatalog{})
}

func newHarnessWithCatalog(t *testing.T, catalog fakeCatalog) *harness {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(ctx, mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	library, err := phone.ParseLibrary([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}

	logger := testLogger()
	gateway := &fakeGateway{}
	queue := &stepQueue{}
	conferences := conference.NewRegistry(store, gateway, catalog, testWebhookURL, HoldMusicAssetID(), logger)
	players := player.NewStore(store, logger)
	manager := script.NewManager(store, ScriptName, StateShape, logger)

	narrative, err := New(Deps{
		Manager:     manager,
		Players:     players,
		Library:     library,
		Catalog:     catalog,
		Gateway:     gateway,
		Queue:       queue,
		Conferences: conferences,
		WebhookURL:  testWebhookURL,
		Timings:     testTimings(),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := narrative.Script().Load(ctx); err != nil {
		t.Fatalf("script Load error: %v", err)
	}

	return &harness{
		narrative:   narrative,
		conferences: conferences,
		players:     players,
		manager:     manager,
		gateway:     gateway,
		queue:       queue,
	}
}

func webhookRequest(t *testing.T, from, dialed phone.Number, digits, body string) *script.Request {
	t.Helper()
	form := url.Values{"From": {from.E164()}, "To": {dialed.E164()}}
	if digits != "" {
		form.Set("Digits", digits)
	}
	if body != "" {
		form.Set("Body", body)
	}
	httpReq, err := http.NewRequest(http.MethodPost, "/tipline/start", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req, err := script.ParseRequest(httpReq)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// call serves one voice webhook and drains the queued follow-up work.
func (h *harness) call(t *testing.T, from, dialed phone.Number, digits string) ([]twiml.Element, *player.Player) {
	t.Helper()
	ctx := context.Background()
	req := webhookRequest(t, from, dialed, digits, "")
	if err := req.Load(ctx, h.players); err != nil {
		t.Fatalf("request load error: %v", err)
	}
	verbs, handled, err := h.narrative.Script().ProcessCall(ctx, req)
	if err != nil {
		t.Fatalf("ProcessCall error: %v", err)
	}
	if !handled {
		t.Fatalf("script declined call from %s to %s", from.E164(), dialed.E164())
	}
	h.queue.drain(ctx, t)
	p, _ := req.Player()
	return verbs, p
}

// text serves one SMS webhook. Queued follow-up work is left for the
// test to step through.
func (h *harness) text(t *testing.T, from, dialed phone.Number, body string) {
	t.Helper()
	ctx := context.Background()
	req := webhookRequest(t, from, dialed, "", body)
	if err := req.Load(ctx, h.players); err != nil {
		t.Fatalf("request load error: %v", err)
	}
	handled, err := h.narrative.Script().ProcessText(ctx, req)
	if err != nil {
		t.Fatalf("ProcessText error: %v", err)
	}
	if !handled {
		t.Fatalf("script declined text from %s", from.E164())
	}
}

// playedURL digs the Play URL out of a room response, gathered or not.
func playedURL(t *testing.T, verbs []twiml.Element) string {
	t.Helper()
	if len(verbs) == 0 {
		t.Fatal("empty response")
	}
	switch v := verbs[0].(type) {
	case *twiml.VoicePlay:
		return v.Url
	case *twiml.VoiceGather:
		if len(v.InnerElements) == 0 {
			t.Fatal("gather with no inner play")
		}
		play, ok := v.InnerElements[0].(*twiml.VoicePlay)
		if !ok {
			t.Fatalf("gather inner = %T, want Play", v.InnerElements[0])
		}
		return play.Url
	default:
		t.Fatalf("first verb is %T, want Play or Gather", verbs[0])
		return ""
	}
}

func (h *harness) scriptState(t *testing.T, num phone.Number) *player.ScriptInfo {
	t.Helper()
	p, err := h.players.Load(context.Background(), num)
	if err != nil {
		t.Fatal(err)
	}
	info := p.Script(ScriptName)
	if info == nil {
		t.Fatalf("%s has no script record", num.E164())
	}
	return info
}

func (h *harness) sharedState(t *testing.T) *script.State {
	t.Helper()
	state, err := h.manager.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return state
}

func TestTipLineBalancesPaths(t *testing.T) {
	h := newHarnessWithCatalog(t, fakeCatalog{pathRooms: map[string]bool{roomTipLineStart: true}})

	verbs, _ := h.call(t, playerOne, h.narrative.numTipLine, "")
	if got := playedURL(t, verbs); !strings.HasSuffix(got, "/Clavae") {
		t.Errorf("first caller heard %q, want the Clavae recording", got)
	}
	if got := dataString(h.scriptState(t, playerOne), "path"); got != PathClavae {
		t.Errorf("first caller path = %q, want %q", got, PathClavae)
	}

	verbs, _ = h.call(t, playerTwo, h.narrative.numTipLine, "")
	if got := playedURL(t, verbs); !strings.HasSuffix(got, "/Karen") {
		t.Errorf("second caller heard %q, want the Karen recording", got)
	}

	state := h.sharedState(t)
	if !state.Contains(fieldClavaePlayers, playerOne.E164()) {
		t.Errorf("clavae_players = %v, missing first caller", state.Lists[fieldClavaePlayers])
	}
	if !state.Contains(fieldKarenPlayers, playerTwo.E164()) {
		t.Errorf("karen_players = %v, missing second caller", state.Lists[fieldKarenPlayers])
	}
}

func TestClavaeWalkthrough(t *testing.T) {
	h := newHarness(t)
	tip := h.narrative.numTipLine

	h.call(t, playerOne, tip, "")
	verbs, _ := h.call(t, playerOne, tip, "6")
	if _, ok := verbs[0].(*twiml.VoiceHangup); !ok {
		t.Errorf("text room responded %T, want Hangup", verbs[0])
	}
	msg := h.gateway.lastTextTo(t, playerOne)
	if !strings.Contains(msg.Body, "horrible truth") {
		t.Errorf("first text body = %q", msg.Body)
	}
	if !msg.From.Equal(h.narrative.numClavae1) {
		t.Errorf("first text from %s, want the first Clavae number", msg.From.E164())
	}
	if got := h.scriptState(t, playerOne).State; got != statePathAssigned {
		t.Fatalf("state after tip line = %q", got)
	}

	h.call(t, playerOne, h.narrative.numClavae1, "")
	h.call(t, playerOne, h.narrative.numClavae1, "1")
	msg = h.gateway.lastTextTo(t, playerOne)
	if !strings.Contains(msg.Body, "five-digit code") {
		t.Errorf("puzzle text body = %q", msg.Body)
	}
	if msg.MediaURL != "https://cms.test/file/1094.mp3" {
		t.Errorf("puzzle text image = %q", msg.MediaURL)
	}
	if got := h.scriptState(t, playerOne).State; got != stateSecondCallDone {
		t.Fatalf("state after Clavae's ask = %q", got)
	}

	verbs, _ = h.call(t, playerOne, h.narrative.numClavae2, "")
	gather, ok := verbs[0].(*twiml.VoiceGather)
	if !ok || gather.NumDigits != "5" {
		t.Fatalf("password room = %#v, want a 5-digit gather", verbs[0])
	}

	// The hidden code plays the puppet master and puts the password room
	// back in the queue.
	verbs, _ = h.call(t, playerOne, h.narrative.numClavae2, "02501")
	if got := playedURL(t, verbs); got != "https://cms.test/file/1099.mp3" {
		t.Errorf("ghost room played %q", got)
	}
	verbs, _ = h.call(t, playerOne, h.narrative.numClavae2, "")
	if got := playedURL(t, verbs); !strings.Contains(got, roomDatabasePassword) {
		t.Errorf("after the ghost, heard %q, want the password room again", got)
	}

	h.call(t, playerOne, h.narrative.numClavae2, "12610")
	h.call(t, playerOne, h.narrative.numClavae2, "3")
	h.call(t, playerOne, h.narrative.numClavae2, "2")
	h.call(t, playerOne, h.narrative.numClavae2, "1")

	info := h.scriptState(t, playerOne)
	if info.State != stateWaitingForConf {
		t.Fatalf("state after the third call = %q", info.State)
	}
	state := h.sharedState(t)
	if !state.Contains(fieldClavaeWaiting, playerOne.E164()) {
		t.Errorf("clavae_waiting_for_conf = %v", state.Lists[fieldClavaeWaiting])
	}
	msg = h.gateway.lastTextTo(t, playerOne)
	if !strings.Contains(msg.Body, "quantum lagrange") {
		t.Errorf("queue text body = %q", msg.Body)
	}

	// Every story number now parks the player in the holding room.
	verbs, _ = h.call(t, playerOne, h.narrative.numClavae1, "")
	say, ok := verbs[0].(*twiml.VoiceSay)
	if !ok || !strings.Contains(say.Message, "Thank you for expressing") {
		t.Errorf("holding response = %#v", verbs[0])
	}
	if got := h.scriptState(t, playerOne).State; got != stateWaitingForConf {
		t.Errorf("holding room changed state to %q", got)
	}
}

func TestKarenWalkthrough(t *testing.T) {
	h := newHarness(t)
	tip := h.narrative.numTipLine

	// First caller takes the Clavae slot so the second lands on Karen.
	h.call(t, playerOne, tip, "")

	h.call(t, playerTwo, tip, "")
	for _, digits := range []string{"5", "5", "1", "1", "1", "1"} {
		h.call(t, playerTwo, tip, digits)
	}
	verbs, _ := h.call(t, playerTwo, tip, "1")
	if _, ok := verbs[0].(*twiml.VoiceHangup); !ok {
		t.Errorf("text room responded %T, want Hangup", verbs[0])
	}
	msg := h.gateway.lastTextTo(t, playerTwo)
	if !strings.Contains(msg.Body, "Telemarketopia material") {
		t.Errorf("recruit text body = %q", msg.Body)
	}
	if msg.MediaURL != "https://cms.test/file/1002.mp3" {
		t.Errorf("recruit text image = %q", msg.MediaURL)
	}
	if got := h.scriptState(t, playerTwo).State; got != statePathAssigned {
		t.Fatalf("state after tip line = %q", got)
	}

	h.call(t, playerTwo, h.narrative.numKaren1, "")
	h.call(t, playerTwo, h.narrative.numKaren1, "1")
	msg = h.gateway.lastTextTo(t, playerTwo)
	if !strings.Contains(msg.Body, "exciting opportunities") {
		t.Errorf("initiation text body = %q", msg.Body)
	}
	if got := h.scriptState(t, playerTwo).State; got != stateSecondCallDone {
		t.Fatalf("state after initiation = %q", got)
	}

	h.call(t, playerTwo, h.narrative.numKaren2, "")
	h.call(t, playerTwo, h.narrative.numKaren2, "1")
	h.call(t, playerTwo, h.narrative.numKaren2, "1")
	h.call(t, playerTwo, h.narrative.numKaren2, "1")

	if got := h.scriptState(t, playerTwo).State; got != stateWaitingForConf {
		t.Fatalf("state after the promotion = %q", got)
	}
	state := h.sharedState(t)
	if !state.Contains(fieldKarenWaiting, playerTwo.E164()) {
		t.Errorf("karen_waiting_for_conf = %v", state.Lists[fieldKarenWaiting])
	}
}

func TestFlagSaveLosingGenerationRaceIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := player.New(playerOne)
	info := player.NewScriptInfo(stateWaitingForConf)
	info.Data[keyReadyForConf] = time.Now().UTC().Format(time.RFC3339)
	p.SetScript(ScriptName, info)
	if err := h.players.Save(ctx, p); err != nil {
		t.Fatal(err)
	}

	stale, err := h.players.Load(ctx, playerOne)
	if err != nil {
		t.Fatal(err)
	}
	// An operator restore lands while the coordinator holds the record.
	if err := h.players.AdvanceGenerationTo(ctx, player.New(playerOne)); err != nil {
		t.Fatal(err)
	}

	// The losing write is dropped, not surfaced, so the task keeps going.
	if err := h.narrative.savePlayer(ctx, stale); err != nil {
		t.Errorf("stale save error = %v, want it dropped", err)
	}

	restored, err := h.players.Load(ctx, playerOne)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Script(ScriptName) != nil {
		t.Error("stale record overwrote the restored one")
	}
}

func TestClimaxEndings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	verbs, err := h.narrative.Climax(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Climax error: %v", err)
	}
	if got := playedURL(t, verbs); got != "https://cms.test/file/1052.mp3" {
		t.Errorf("ending for 1/1 = %q", got)
	}

	verbs, err = h.narrative.Climax(ctx, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := playedURL(t, verbs); got != "https://cms.test/file/1060.mp3" {
		t.Errorf("ending for 3/3 = %q", got)
	}

	if _, err := h.narrative.Climax(ctx, 0, 4); err == nil {
		t.Error("expected an error for out-of-range choices")
	}

	verbs, err = h.narrative.FinalClimax(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := playedURL(t, verbs); got != "https://cms.test/file/1097.mp3" {
		t.Errorf("right passcode ending = %q", got)
	}

	verbs, err = h.narrative.FinalClimax(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := playedURL(t, verbs); got != "https://cms.test/file/1060.mp3" {
		t.Errorf("wrong passcode ending = %q", got)
	}
}
