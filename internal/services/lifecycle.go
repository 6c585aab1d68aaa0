package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/domain"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/repos"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

// CallLifecycle owns every mutation of a call's state. The dispatcher and the
// callback applier both funnel through here, so conflicting transitions for
// one call always resolve through the repo's guarded update.
type CallLifecycle struct {
	db       *gorm.DB
	log      *logger.Logger
	callRepo repos.CallRepo
	policy   domain.RetryPolicy
	now      func() time.Time
}

func NewCallLifecycle(db *gorm.DB, log *logger.Logger, callRepo repos.CallRepo, policy domain.RetryPolicy) *CallLifecycle {
	return &CallLifecycle{
		db:       db,
		log:      log.With("service", "CallLifecycle"),
		callRepo: callRepo,
		policy:   policy,
		now:      time.Now,
	}
}

// MarkInProgress records a successful placeCall.
func (l *CallLifecycle) MarkInProgress(ctx context.Context, call *types.Call, providerCallRef string) (bool, error) {
	return l.callRepo.Transition(ctx, nil, call.ID, types.CallStateDispatching, types.CallStateInProgress, map[string]interface{}{
		"provider_call_ref": providerCallRef,
		"last_error":        "",
	})
}

// Succeed moves an in-progress call to its successful terminal state.
func (l *CallLifecycle) Succeed(ctx context.Context, call *types.Call) (bool, error) {
	return l.callRepo.Transition(ctx, nil, call.ID, types.CallStateInProgress, types.CallStateSucceeded, map[string]interface{}{
		"terminal_at": l.now(),
		"last_error":  "",
	})
}

// Fail handles any failed attempt: the call drops to failed, then the retry
// policy decides between a rescheduled queued row and failed_permanently.
// Returns the state the call ended in, or "" when the guarded transition lost
// (the call had already moved on, e.g. a duplicate callback).
func (l *CallLifecycle) Fail(ctx context.Context, call *types.Call, fromState string, class domain.FailureClass, detail string, retryCeiling int) (string, error) {
	if !domain.CanTransition(fromState, types.CallStateFailed) {
		return "", nil
	}

	// Invalid numbers burn no retry budget deciding; they can never succeed.
	if class == domain.FailureInvalidNumber || class == domain.FailureDoNotCall {
		applied, err := l.callRepo.Transition(ctx, nil, call.ID, fromState, types.CallStateFailedPermanently, map[string]interface{}{
			"last_error":  detail,
			"terminal_at": l.now(),
		})
		if err != nil || !applied {
			return "", err
		}
		return types.CallStateFailedPermanently, nil
	}

	applied, err := l.callRepo.Transition(ctx, nil, call.ID, fromState, types.CallStateFailed, map[string]interface{}{
		"last_error": detail,
	})
	if err != nil || !applied {
		return "", err
	}

	decision := l.policy.Decide(call.AttemptCount, class, retryCeiling)
	if decision.Retry {
		applied, err = l.callRepo.Transition(ctx, nil, call.ID, types.CallStateFailed, types.CallStateQueued, map[string]interface{}{
			"scheduled_at": l.now().Add(decision.Delay),
		})
		if err != nil || !applied {
			return "", err
		}
		l.log.Debug("Call rescheduled",
			"call_id", call.ID,
			"attempt", call.AttemptCount,
			"class", string(class),
			"delay", decision.Delay.String(),
		)
		return types.CallStateQueued, nil
	}

	applied, err = l.callRepo.Transition(ctx, nil, call.ID, types.CallStateFailed, types.CallStateFailedPermanently, map[string]interface{}{
		"terminal_at": l.now(),
	})
	if err != nil || !applied {
		return "", err
	}
	return types.CallStateFailedPermanently, nil
}

// FailureClassForStatus maps a provider terminal status onto a failure class.
func FailureClassForStatus(status string) domain.FailureClass {
	switch status {
	case telephony.StatusNoAnswer:
		return domain.FailureNoAnswer
	case telephony.StatusBusy:
		return domain.FailureBusy
	default:
		return domain.FailureProviderTransient
	}
}
