package domain

// FailureClass partitions call failures into what the retry policy may
// reschedule and what it must not.
type FailureClass string

const (
	FailureNoAnswer          FailureClass = "no_answer"
	FailureBusy              FailureClass = "busy"
	FailureProviderTransient FailureClass = "provider_transient"
	FailureTimeout           FailureClass = "timeout"
	FailureInvalidNumber     FailureClass = "invalid_number"
	FailureDoNotCall         FailureClass = "do_not_call"
	FailureCampaignAborted   FailureClass = "campaign_aborted"
)

func (c FailureClass) Retryable() bool {
	switch c {
	case FailureNoAnswer, FailureBusy, FailureProviderTransient, FailureTimeout:
		return true
	}
	return false
}
