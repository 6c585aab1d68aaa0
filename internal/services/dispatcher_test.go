package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/dialbridge-backend/internal/telephony"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

func enqueueTestCampaign(t *testing.T, env *testEnv, phones []string, limit, ceiling int) *types.Campaign {
	t.Helper()
	contacts := make([]ContactInput, 0, len(phones))
	for i, phone := range phones {
		contacts = append(contacts, ContactInput{
			DisplayName: "Contact " + string(rune('A'+i)),
			PhoneNumber: phone,
		})
	}
	campaign, err := env.campaigns.Enqueue(context.Background(), EnqueueCampaignRequest{
		Name:           "follow-up sweep",
		ScriptTemplate: "Hello, this is a confirmation call.",
		Schema: []types.SchemaField{
			{FieldName: "appointment_day", Description: "Day the contact agreed to", TypeHint: "string"},
		},
		Contacts:         contacts,
		ConcurrencyLimit: limit,
		RetryCeiling:     ceiling,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return campaign
}

func callsByPhone(t *testing.T, env *testEnv, campaignID uuid.UUID) map[string]*types.Call {
	t.Helper()
	ctx := context.Background()
	contacts, err := env.contactRepo.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	phoneByContact := map[uuid.UUID]string{}
	for _, c := range contacts {
		phoneByContact[c.ID] = c.PhoneNumber
	}
	calls, err := env.callRepo.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	out := map[string]*types.Call{}
	for _, call := range calls {
		out[phoneByContact[call.ContactID]] = call
	}
	return out
}

// phoneFromRef reverses the fake gateway's "ref-<phone>-<attempt>" encoding.
func phoneFromRef(ref string) string {
	trimmed := strings.TrimPrefix(ref, "ref-")
	idx := strings.LastIndex(trimmed, "-")
	return trimmed[:idx]
}

// Three contacts through a limit of two: one clean success, one that needs a
// retry after no-answer, one invalid number that must fail permanently on its
// first and only attempt.
func TestDispatcherRunsCampaignToCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phoneA := "+15550000001"
	phoneB := "+15550000002"
	phoneC := "+15550000003"
	env.gateway.failWith(phoneC, telephony.ErrInvalidNumber)

	campaign := enqueueTestCampaign(t, env, []string{phoneA, phoneB, phoneC}, 2, 2)

	delivered := map[string]bool{}
	waitFor(t, 5*time.Second, "campaign completion", func() bool {
		env.dispatcher.Tick(ctx)

		for _, ref := range env.gateway.placedRefs() {
			if delivered[ref] {
				continue
			}
			call, err := env.callRepo.GetByProviderRef(ctx, nil, ref)
			if err != nil || call == nil || call.State != types.CallStateInProgress {
				// Dispatch goroutine has not committed yet; retry next pass.
				continue
			}
			delivered[ref] = true

			status := telephony.StatusCompleted
			if phoneFromRef(ref) == phoneB && strings.HasSuffix(ref, "-1") {
				status = telephony.StatusNoAnswer
			}
			env.callbacks.Apply(ctx, telephony.StatusEvent{
				ProviderCallRef: ref,
				Status:          status,
				RecordingURL:    "https://recordings.local/" + ref,
			})
		}

		current, err := env.campaignRepo.GetByID(ctx, nil, campaign.ID)
		return err == nil && current != nil && current.Status == types.CampaignStatusCompleted
	})

	counts, err := env.callRepo.CountByState(ctx, nil, campaign.ID)
	if err != nil {
		t.Fatalf("count by state: %v", err)
	}
	if counts[types.CallStateSucceeded] != 2 {
		t.Fatalf("succeeded = %d, want 2 (counts %v)", counts[types.CallStateSucceeded], counts)
	}
	if counts[types.CallStateFailedPermanently] != 1 {
		t.Fatalf("failed_permanently = %d, want 1 (counts %v)", counts[types.CallStateFailedPermanently], counts)
	}

	byPhone := callsByPhone(t, env, campaign.ID)
	if got := byPhone[phoneC].AttemptCount; got != 1 {
		t.Fatalf("invalid-number call attempts = %d, want exactly 1", got)
	}
	if byPhone[phoneC].LastError == "" {
		t.Fatalf("invalid-number call has no last_error")
	}
	if got := byPhone[phoneB].AttemptCount; got != 2 {
		t.Fatalf("retried call attempts = %d, want 2", got)
	}
	if got := byPhone[phoneA].AttemptCount; got != 1 {
		t.Fatalf("clean call attempts = %d, want 1", got)
	}

	// Transcript extraction runs off the success callback; the report carries
	// the per-field results for succeeded calls.
	waitFor(t, 2*time.Second, "extraction results", func() bool {
		byPhone = callsByPhone(t, env, campaign.ID)
		return len(byPhone[phoneA].ExtractedData) > 0 && len(byPhone[phoneB].ExtractedData) > 0
	})
	report, err := env.campaigns.Report(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Status != types.CampaignStatusCompleted {
		t.Fatalf("report status = %q, want completed", report.Status)
	}
	extracted := 0
	for _, summary := range report.PerCallSummary {
		if summary.State != types.CallStateSucceeded {
			continue
		}
		result, ok := summary.ExtractedData["appointment_day"]
		if !ok || result.Value == nil || *result.Value != "Tuesday" {
			t.Fatalf("succeeded call %s missing extracted appointment_day: %+v", summary.CallID, summary.ExtractedData)
		}
		extracted++
	}
	if extracted != 2 {
		t.Fatalf("extracted summaries = %d, want 2", extracted)
	}
}

func TestDispatcherHonorsConcurrencyLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phones := []string{
		"+15550000011", "+15550000012", "+15550000013",
		"+15550000014", "+15550000015", "+15550000016",
	}
	gate := make(chan struct{})
	env.gateway.gate = gate

	campaign := enqueueTestCampaign(t, env, phones, 2, 1)

	env.dispatcher.Tick(ctx)
	env.dispatcher.Tick(ctx)

	// Both claimed calls are parked inside PlaceCall; further ticks must not
	// start more while two are in flight.
	waitFor(t, time.Second, "two in-flight placements", func() bool {
		env.gateway.mu.Lock()
		defer env.gateway.mu.Unlock()
		return env.gateway.inFlight == 2
	})
	env.dispatcher.Tick(ctx)
	close(gate)
	env.gateway.mu.Lock()
	env.gateway.gate = nil
	env.gateway.mu.Unlock()

	delivered := map[string]bool{}
	waitFor(t, 5*time.Second, "all calls succeeded", func() bool {
		env.dispatcher.Tick(ctx)
		for _, ref := range env.gateway.placedRefs() {
			if delivered[ref] {
				continue
			}
			call, err := env.callRepo.GetByProviderRef(ctx, nil, ref)
			if err != nil || call == nil || call.State != types.CallStateInProgress {
				continue
			}
			delivered[ref] = true
			env.callbacks.Apply(ctx, telephony.StatusEvent{ProviderCallRef: ref, Status: telephony.StatusCompleted})
		}
		counts, err := env.callRepo.CountByState(ctx, nil, campaign.ID)
		return err == nil && counts[types.CallStateSucceeded] == int64(len(phones))
	})

	env.gateway.mu.Lock()
	maxInFlight := env.gateway.maxInFlight
	env.gateway.mu.Unlock()
	if maxInFlight > 2 {
		t.Fatalf("max in-flight placements = %d, want <= 2", maxInFlight)
	}
}

func TestDispatcherHalvesRateOnProviderLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phones := []string{"+15550000021", "+15550000022", "+15550000023", "+15550000024"}
	for _, phone := range phones {
		env.gateway.failWith(phone, telephony.ErrRateLimited)
	}
	campaign := enqueueTestCampaign(t, env, phones, 4, 3)

	env.dispatcher.Tick(ctx)
	waitFor(t, 2*time.Second, "rate-limited attempts settled", func() bool {
		for _, phone := range phones {
			if env.gateway.attemptCount(phone) == 0 {
				return false
			}
		}
		counts, err := env.callRepo.CountByState(ctx, nil, campaign.ID)
		return err == nil && counts[types.CallStateDispatching] == 0
	})

	env.dispatcher.mu.Lock()
	state := env.dispatcher.rates[campaign.ID]
	env.dispatcher.mu.Unlock()
	if state == nil {
		t.Fatalf("no throttle state recorded for campaign")
	}
	if state.effective != 1 {
		t.Fatalf("effective limit after repeated rate limiting = %d, want 1", state.effective)
	}
	if !state.cooldownUntil.After(time.Now()) {
		t.Fatalf("cooldown not set after rate limiting")
	}

	// Rate-limited attempts stay retryable.
	counts, err := env.callRepo.CountByState(ctx, nil, campaign.ID)
	if err != nil {
		t.Fatalf("count by state: %v", err)
	}
	if counts[types.CallStateQueued] != int64(len(phones)) {
		t.Fatalf("queued after rate limiting = %d, want %d (counts %v)", counts[types.CallStateQueued], len(phones), counts)
	}

	// Once the cooldown passes, capacity ramps back one slot per tick.
	env.dispatcher.mu.Lock()
	state.cooldownUntil = time.Now().Add(-time.Second)
	env.dispatcher.mu.Unlock()
	if got := env.dispatcher.effectiveLimit(campaign, time.Now()); got != 2 {
		t.Fatalf("effective limit after cooldown = %d, want 2", got)
	}
}

func TestDispatcherTimesOutStaleInProgressCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	campaign := enqueueTestCampaign(t, env, []string{"+15550000031"}, 1, 2)
	calls, err := env.callRepo.ListByCampaign(ctx, nil, campaign.ID)
	if err != nil || len(calls) != 1 {
		t.Fatalf("list calls: %v (n=%d)", err, len(calls))
	}
	call := calls[0]

	// Simulate a dispatch whose terminal callback never arrived.
	stale := time.Now().Add(-2 * time.Hour)
	if err := env.callRepo.UpdateFields(ctx, nil, call.ID, map[string]interface{}{
		"state":             types.CallStateInProgress,
		"attempt_count":     1,
		"dispatched_at":     stale,
		"provider_call_ref": "ref-lost-callback",
	}); err != nil {
		t.Fatalf("seed stale call: %v", err)
	}

	env.dispatcher.Tick(ctx)

	got, err := env.callRepo.GetByID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.State != types.CallStateQueued {
		t.Fatalf("stale call state = %q, want queued (timeout is retryable)", got.State)
	}
	if got.LastError == "" {
		t.Fatalf("timed-out call has no last_error")
	}
}

func TestDispatcherRequeuesStaleDispatching(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	campaign := enqueueTestCampaign(t, env, []string{"+15550000041"}, 1, 2)
	calls, err := env.callRepo.ListByCampaign(ctx, nil, campaign.ID)
	if err != nil || len(calls) != 1 {
		t.Fatalf("list calls: %v (n=%d)", err, len(calls))
	}
	call := calls[0]

	// A dispatcher crash between claim and placeCall leaves the row stuck in
	// dispatching with no provider ref.
	stale := time.Now().Add(-2 * time.Hour)
	if err := env.callRepo.UpdateFields(ctx, nil, call.ID, map[string]interface{}{
		"state":         types.CallStateDispatching,
		"attempt_count": 1,
		"dispatched_at": stale,
		"scheduled_at":  time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed stale call: %v", err)
	}

	env.dispatcher.Tick(ctx)

	got, err := env.callRepo.GetByID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.State != types.CallStateQueued && got.State != types.CallStateDispatching && got.State != types.CallStateInProgress {
		t.Fatalf("stale dispatching call state = %q after tick", got.State)
	}
	if got.State == types.CallStateQueued {
		return
	}
	// The same tick may have legitimately re-claimed the requeued row; any of
	// the above states means the row was recovered rather than stuck.
}

func TestDispatcherSkipsAbortedCampaigns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	campaign := enqueueTestCampaign(t, env, []string{"+15550000051", "+15550000052"}, 2, 2)
	if err := env.campaigns.Abort(ctx, campaign.ID); err != nil {
		t.Fatalf("abort: %v", err)
	}

	env.dispatcher.Tick(ctx)
	time.Sleep(50 * time.Millisecond)

	if refs := env.gateway.placedRefs(); len(refs) != 0 {
		t.Fatalf("aborted campaign placed %d calls", len(refs))
	}
	counts, err := env.callRepo.CountByState(ctx, nil, campaign.ID)
	if err != nil {
		t.Fatalf("count by state: %v", err)
	}
	if counts[types.CallStateAborted] != 2 {
		t.Fatalf("aborted calls = %d, want 2 (counts %v)", counts[types.CallStateAborted], counts)
	}
}
