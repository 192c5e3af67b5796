package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/halpline/halpline/internal/phone"
)

type fakeGateway struct {
	mu       sync.Mutex
	messages []Message
	smsErr   error
}

func (f *fakeGateway) PlaceCall(ctx context.Context, call Call) (string, error) {
	return "CA0", nil
}

func (f *fakeGateway) SendSMS(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.smsErr != nil {
		return f.smsErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeGateway) PlayIntoConference(ctx context.Context, sid, url string) error { return nil }
func (f *fakeGateway) EndConference(ctx context.Context, sid string) error { return nil }

func testLibrary(t *testing.T) *phone.Library {
	t.Helper()
	lib, err := phone.ParseLibrary([]byte(`[
		{"number": "+15102567675", "capabilities": ["voice", "sms", "mms"]}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

func TestReporterTextsAllTargets(t *testing.T) {
	gw := &fakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewErrorReporter(gw, testLibrary(t), []string{"+15105550001", "+15105550002"}, logger)

	r.Report(context.Background(), "scene failed")

	if len(gw.messages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(gw.messages))
	}
	for _, msg := range gw.messages {
		if msg.Body != "scene failed" {
			t.Errorf("body = %q, want scene failed", msg.Body)
		}
		if msg.From.E164() != "+15102567675" {
			t.Errorf("from = %q, want the sms-capable library number", msg.From.E164())
		}
	}
}

func TestReporterSkipsInvalidNumbers(t *testing.T) {
	gw := &fakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewErrorReporter(gw, testLibrary(t), []string{"garbage", "+15105550001"}, logger)

	r.Report(context.Background(), "oops")

	if len(gw.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(gw.messages))
	}
}

func TestReporterSwallowsSendFailures(t *testing.T) {
	gw := &fakeGateway{smsErr: errors.New("down")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewErrorReporter(gw, testLibrary(t), []string{"+15105550001"}, logger)

	// Must not panic or propagate the failure.
	r.Report(context.Background(), "oops")
}
