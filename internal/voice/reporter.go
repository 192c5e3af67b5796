package voice

import (
	"context"
	"log/slog"

	"github.com/halpline/halpline/internal/phone"
)

// ErrorReporter texts operational failures to the on-call numbers from
// the credentials file. Reporting is best-effort: a reporter that cannot
// send only logs.
type ErrorReporter struct {
	gateway Gateway
	library *phone.Library
	targets []phone.Number
	logger  *slog.Logger
}

// NewErrorReporter parses the configured report numbers. Invalid entries
// are skipped with a warning rather than failing startup.
func NewErrorReporter(gateway Gateway, library *phone.Library, numbers []string, logger *slog.Logger) *ErrorReporter {
	r := &ErrorReporter{
		gateway: gateway,
		library: library,
		logger:  logger.With("subsystem", "reporter"),
	}
	for _, raw := range numbers {
		n, err := phone.Parse(raw)
		if err != nil {
			r.logger.Warn("skipping invalid error-report number", "number", raw, "error", err)
			continue
		}
		r.targets = append(r.targets, n)
	}
	return r
}

// Report texts msg to every configured number.
func (r *ErrorReporter) Report(ctx context.Context, msg string) {
	from, err := r.library.Random(phone.CapSMS)
	if err != nil {
		r.logger.Error("cannot report error, no sms-capable number", "error", err)
		return
	}
	for _, target := range r.targets {
		err := r.gateway.SendSMS(ctx, Message{To: target, From: from, Body: msg})
		if err != nil {
			r.logger.Error("error report sms failed", "to", target.E164(), "error", err)
		}
	}
}
