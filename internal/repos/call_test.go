package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/db"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedCampaignWithCalls(t *testing.T, gdb *gorm.DB, n int, scheduledAt time.Time) (*types.Campaign, []*types.Call) {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	campaign := &types.Campaign{
		Name:             "seed",
		ScriptTemplate:   "hello",
		ExtractionSchema: datatypes.JSON("[]"),
		ConcurrencyLimit: n,
		RetryCeiling:     2,
		Status:           types.CampaignStatusRunning,
	}
	if _, err := NewCampaignRepo(gdb, log).Create(ctx, nil, campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	contacts := make([]*types.Contact, 0, n)
	for i := 0; i < n; i++ {
		contacts = append(contacts, &types.Contact{
			CampaignID:  campaign.ID,
			DisplayName: fmt.Sprintf("c%d", i),
			PhoneNumber: fmt.Sprintf("+1555000%04d", i),
		})
	}
	if _, err := NewContactRepo(gdb, log).CreateBatch(ctx, nil, contacts); err != nil {
		t.Fatalf("create contacts: %v", err)
	}

	calls := make([]*types.Call, 0, n)
	for _, contact := range contacts {
		calls = append(calls, &types.Call{
			CampaignID:  campaign.ID,
			ContactID:   contact.ID,
			State:       types.CallStateQueued,
			ScheduledAt: scheduledAt,
		})
	}
	if _, err := NewCallRepo(gdb, log).CreateBatch(ctx, nil, calls); err != nil {
		t.Fatalf("create calls: %v", err)
	}
	return campaign, calls
}

func TestClaimNextPendingClaimsEachCallOnce(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	campaign, _ := seedCampaignWithCalls(t, gdb, 5, now.Add(-time.Minute))

	first, err := repo.ClaimNextPending(ctx, nil, campaign.ID, 3, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("first claim = %d calls, want 3", len(first))
	}
	second, err := repo.ClaimNextPending(ctx, nil, campaign.ID, 5, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second claim = %d calls, want the 2 remaining", len(second))
	}

	seen := map[uuid.UUID]bool{}
	for _, call := range append(first, second...) {
		if seen[call.ID] {
			t.Fatalf("call %s claimed twice", call.ID)
		}
		seen[call.ID] = true
		if call.State != types.CallStateDispatching {
			t.Fatalf("claimed call state = %q, want dispatching", call.State)
		}
		if call.AttemptCount != 1 {
			t.Fatalf("claimed call attempt_count = %d, want 1", call.AttemptCount)
		}
		if call.DispatchedAt == nil {
			t.Fatalf("claimed call missing dispatched_at")
		}
	}

	third, err := repo.ClaimNextPending(ctx, nil, campaign.ID, 5, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(third) != 0 {
		t.Fatalf("third claim = %d calls, want 0", len(third))
	}
}

func TestClaimNextPendingSkipsFutureScheduledCalls(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	campaign, calls := seedCampaignWithCalls(t, gdb, 2, now.Add(-time.Minute))
	if err := repo.UpdateFields(ctx, nil, calls[0].ID, map[string]interface{}{
		"scheduled_at": now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	claimed, err := repo.ClaimNextPending(ctx, nil, campaign.ID, 10, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1 (future call must wait)", len(claimed))
	}
	if claimed[0].ID != calls[1].ID {
		t.Fatalf("claimed wrong call")
	}
}

func TestClaimNextPendingOrdersByScheduledAt(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	campaign, calls := seedCampaignWithCalls(t, gdb, 3, now.Add(-time.Minute))
	// Push the first-created call furthest into the past so it must come out
	// first regardless of id order.
	if err := repo.UpdateFields(ctx, nil, calls[2].ID, map[string]interface{}{
		"scheduled_at": now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	claimed, err := repo.ClaimNextPending(ctx, nil, campaign.ID, 1, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != calls[2].ID {
		t.Fatalf("claimed wrong call, want the oldest-scheduled one")
	}
}

func TestTransitionIsGuardedByFromState(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	_, calls := seedCampaignWithCalls(t, gdb, 1, now)
	call := calls[0]

	applied, err := repo.Transition(ctx, nil, call.ID, types.CallStateQueued, types.CallStateDispatching, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !applied {
		t.Fatalf("transition from matching state not applied")
	}

	applied, err = repo.Transition(ctx, nil, call.ID, types.CallStateQueued, types.CallStateDispatching, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if applied {
		t.Fatalf("transition applied with stale from-state")
	}

	got, err := repo.GetByID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != types.CallStateDispatching {
		t.Fatalf("state = %q, want dispatching", got.State)
	}
}

func TestCountByState(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	campaign, calls := seedCampaignWithCalls(t, gdb, 4, now)
	if err := repo.UpdateFields(ctx, nil, calls[0].ID, map[string]interface{}{"state": types.CallStateSucceeded}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.UpdateFields(ctx, nil, calls[1].ID, map[string]interface{}{"state": types.CallStateInProgress}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	counts, err := repo.CountByState(ctx, nil, campaign.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[types.CallStateQueued] != 2 || counts[types.CallStateInProgress] != 1 || counts[types.CallStateSucceeded] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestAbortStatesLeavesTerminalCallsAlone(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	campaign, calls := seedCampaignWithCalls(t, gdb, 3, now)
	if err := repo.UpdateFields(ctx, nil, calls[0].ID, map[string]interface{}{"state": types.CallStateSucceeded}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	swept, err := repo.AbortStates(ctx, nil, campaign.ID, []string{
		types.CallStateQueued, types.CallStateDispatching, types.CallStateInProgress, types.CallStateFailed,
	})
	if err != nil {
		t.Fatalf("abort states: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	got, err := repo.GetByID(ctx, nil, calls[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != types.CallStateSucceeded {
		t.Fatalf("terminal call state = %q, want untouched succeeded", got.State)
	}
}

func TestRequeueStaleDispatching(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCallRepo(gdb, logger.NewNop())
	ctx := context.Background()
	now := time.Now()

	_, calls := seedCampaignWithCalls(t, gdb, 2, now)
	stale := now.Add(-time.Hour)
	fresh := now.Add(-time.Second)
	if err := repo.UpdateFields(ctx, nil, calls[0].ID, map[string]interface{}{
		"state": types.CallStateDispatching, "dispatched_at": stale,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.UpdateFields(ctx, nil, calls[1].ID, map[string]interface{}{
		"state": types.CallStateDispatching, "dispatched_at": fresh,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := repo.RequeueStaleDispatching(ctx, nil, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want only the stale one", n)
	}

	got, err := repo.GetByID(ctx, nil, calls[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != types.CallStateQueued {
		t.Fatalf("stale call state = %q, want queued", got.State)
	}
	got, err = repo.GetByID(ctx, nil, calls[1].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != types.CallStateDispatching {
		t.Fatalf("fresh call state = %q, want still dispatching", got.State)
	}
}

func TestCampaignSetStatusIsCompareAndSwap(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewCampaignRepo(gdb, logger.NewNop())
	ctx := context.Background()

	campaign, _ := seedCampaignWithCalls(t, gdb, 1, time.Now())

	changed, err := repo.SetStatus(ctx, nil, campaign.ID, types.CampaignStatusRunning, types.CampaignStatusAborted)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if !changed {
		t.Fatalf("running -> aborted not applied")
	}

	changed, err = repo.SetStatus(ctx, nil, campaign.ID, types.CampaignStatusRunning, types.CampaignStatusCompleted)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if changed {
		t.Fatalf("aborted campaign flipped to completed")
	}

	got, err := repo.GetByID(ctx, nil, campaign.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.CampaignStatusAborted {
		t.Fatalf("status = %q, want aborted", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatalf("terminal status missing completed_at")
	}
}
