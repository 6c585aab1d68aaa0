package telephony

import (
	"context"
	"errors"
)

// Place-call failures every vendor adapter must map onto. RateLimited is
// separate from ProviderUnavailable because only the former feeds the
// dispatcher's backoff signal.
var (
	ErrInvalidNumber       = errors.New("telephony: invalid number")
	ErrRateLimited         = errors.New("telephony: rate limited")
	ErrProviderUnavailable = errors.New("telephony: provider unavailable")
)

// Provider-neutral terminal call statuses as delivered by status callbacks.
const (
	StatusCompleted = "completed"
	StatusNoAnswer  = "no-answer"
	StatusBusy      = "busy"
	StatusFailed    = "failed"
)

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusNoAnswer, StatusBusy, StatusFailed:
		return true
	}
	return false
}

// NormalizeStatus folds vendor status spellings onto the neutral set.
// Unrecognized statuses pass through untouched so they can be audited.
func NormalizeStatus(status string) string {
	switch status {
	case "no_answer", "noanswer":
		return StatusNoAnswer
	case "canceled", "cancelled":
		return StatusFailed
	}
	return status
}

type PlaceCallRequest struct {
	PhoneNumber    string
	ScriptTemplate string
	CallbackURL    string
}

// StatusEvent is one inbound provider callback, normalized. Callbacks arrive
// asynchronously, at-least-once and unordered; consumers must treat them as
// such.
type StatusEvent struct {
	ProviderCallRef string `json:"provider_call_ref"`
	Status          string `json:"status"`
	RecordingURL    string `json:"recording_url,omitempty"`
	ErrorDetail     string `json:"error_detail,omitempty"`
}

// Gateway abstracts one outbound telephony vendor.
type Gateway interface {
	// PlaceCall starts an outbound call and returns the vendor's opaque
	// reference. Failures satisfy errors.Is against the sentinels above.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (providerCallRef string, err error)

	// FetchTranscript resolves a completed call's recording into text.
	FetchTranscript(ctx context.Context, providerCallRef, recordingURL string) (string, error)
}
