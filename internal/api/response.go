package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go/twiml"
)

// envelope is the standard JSON response wrapper for the debug
// surface: { "data": ..., "error": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// writeTwiML renders voice verbs into a TwiML document. Rendering only
// fails on broken verb trees, so a failure degrades to a bare apology.
func writeTwiML(w http.ResponseWriter, verbs []twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		slog.Error("failed to render twiml", "error", err)
		doc, _ = twiml.Voice([]twiml.Element{
			&twiml.VoiceSay{Message: "Something went wrong, please call back."},
		})
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("failed to write twiml response", "error", err)
	}
}

// writeEmptyMessageResponse acknowledges an inbound SMS without
// replying. The platform texts nothing when the document has no verbs.
func writeEmptyMessageResponse(w http.ResponseWriter) {
	doc, err := twiml.Messages(nil)
	if err != nil {
		slog.Error("failed to render message twiml", "error", err)
		doc = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("failed to write message response", "error", err)
	}
}
