package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/domain"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/repos"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

type DispatcherConfig struct {
	Tick              time.Duration
	PlaceCallTimeout  time.Duration
	DispatchTimeout   time.Duration
	CallTimeout       time.Duration
	RateLimitCooldown time.Duration
	GlobalCallsPerSec float64
	GlobalBurst       int
	CallbackURL       string
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Tick <= 0 {
		c.Tick = 1 * time.Second
	}
	if c.PlaceCallTimeout <= 0 {
		c.PlaceCallTimeout = 30 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 2 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Minute
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 30 * time.Second
	}
	if c.GlobalCallsPerSec <= 0 {
		c.GlobalCallsPerSec = 10
	}
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = int(c.GlobalCallsPerSec)
		if c.GlobalBurst < 1 {
			c.GlobalBurst = 1
		}
	}
	return c
}

// campaignRate is the AIMD throttle state for one campaign: halve on a
// rate-limit signal, ramp back one slot per tick once the cooldown passes.
type campaignRate struct {
	effective     int
	cooldownUntil time.Time
}

// Dispatcher continuously claims due queued calls up to each campaign's
// concurrency cap and places them. One call stuck on the provider never
// blocks another: every placement runs on its own goroutine, bounded by a
// per-campaign semaphore and a global outbound rate ceiling.
type Dispatcher struct {
	db           *gorm.DB
	log          *logger.Logger
	cfg          DispatcherConfig
	gateway      telephony.Gateway
	lifecycle    *CallLifecycle
	campaigns    CampaignService
	callRepo     repos.CallRepo
	campaignRepo repos.CampaignRepo
	limiter      *rate.Limiter
	now          func() time.Time

	mu    sync.Mutex
	rates map[uuid.UUID]*campaignRate
	sems  map[uuid.UUID]*semaphore.Weighted
}

func NewDispatcher(
	db *gorm.DB,
	log *logger.Logger,
	cfg DispatcherConfig,
	gateway telephony.Gateway,
	lifecycle *CallLifecycle,
	campaigns CampaignService,
	callRepo repos.CallRepo,
	campaignRepo repos.CampaignRepo,
) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		db:           db,
		log:          log.With("component", "Dispatcher"),
		cfg:          cfg,
		gateway:      gateway,
		lifecycle:    lifecycle,
		campaigns:    campaigns,
		callRepo:     callRepo,
		campaignRepo: campaignRepo,
		limiter:      rate.NewLimiter(rate.Limit(cfg.GlobalCallsPerSec), cfg.GlobalBurst),
		now:          time.Now,
		rates:        make(map[uuid.UUID]*campaignRate),
		sems:         make(map[uuid.UUID]*semaphore.Weighted),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info("Starting dispatcher loop", "tick", d.cfg.Tick.String())
	go d.runLoop(ctx)
}

func (d *Dispatcher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher loop stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one dispatch pass. Exported so tests can drive the dispatcher
// without real timers.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()

	if n, err := d.callRepo.RequeueStaleDispatching(ctx, nil, now.Add(-d.cfg.DispatchTimeout)); err != nil {
		d.log.Warn("Stale dispatching requeue failed", "error", err)
	} else if n > 0 {
		d.log.Warn("Requeued stale dispatching calls", "count", n)
	}

	d.timeoutStaleInProgress(ctx, now)

	running, err := d.campaignRepo.ListByStatus(ctx, nil, types.CampaignStatusRunning)
	if err != nil {
		// Storage hiccup: no work available and an empty list are not the
		// same thing, so log and try again next tick.
		d.log.Warn("Listing running campaigns failed", "error", err)
		return
	}
	for _, campaign := range running {
		d.dispatchCampaign(ctx, campaign, now)
	}
}

// timeoutStaleInProgress turns calls whose terminal callback never arrived
// into synthetic retryable failures so they cannot pin resources forever.
func (d *Dispatcher) timeoutStaleInProgress(ctx context.Context, now time.Time) {
	stale, err := d.callRepo.ListStaleInProgress(ctx, nil, now.Add(-d.cfg.CallTimeout))
	if err != nil {
		d.log.Warn("Stale in-progress scan failed", "error", err)
		return
	}
	for _, call := range stale {
		campaign, err := d.campaignRepo.GetByID(ctx, nil, call.CampaignID)
		if err != nil || campaign == nil {
			continue
		}
		finalState, err := d.lifecycle.Fail(ctx, call, types.CallStateInProgress, domain.FailureTimeout, "no terminal callback within timeout", campaign.RetryCeiling)
		if err != nil {
			d.log.Warn("Timeout transition failed", "call_id", call.ID, "error", err)
			continue
		}
		d.log.Warn("Call timed out", "call_id", call.ID, "final_state", finalState)
		if domain.IsTerminal(finalState) {
			if _, err := d.campaigns.CheckCompletion(ctx, call.CampaignID); err != nil {
				d.log.Warn("Completion check failed", "campaign_id", call.CampaignID, "error", err)
			}
		}
	}
}

func (d *Dispatcher) dispatchCampaign(ctx context.Context, campaign *types.Campaign, now time.Time) {
	counts, err := d.callRepo.CountByState(ctx, nil, campaign.ID)
	if err != nil {
		d.log.Warn("State counts failed", "campaign_id", campaign.ID, "error", err)
		return
	}
	inFlight := counts[types.CallStateDispatching] + counts[types.CallStateInProgress]

	capacity := d.effectiveLimit(campaign, now) - int(inFlight)
	if capacity <= 0 {
		return
	}

	claimed, err := d.callRepo.ClaimNextPending(ctx, nil, campaign.ID, capacity, now)
	if err != nil {
		d.log.Warn("Claim failed", "campaign_id", campaign.ID, "error", err)
		return
	}

	sem := d.campaignSemaphore(campaign)
	for _, call := range claimed {
		go d.placeCall(ctx, sem, campaign, call)
	}
}

func (d *Dispatcher) placeCall(ctx context.Context, sem *semaphore.Weighted, campaign *types.Campaign, call *types.Call) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.PlaceCallTimeout)
	defer cancel()

	contact, err := d.contactForCall(cctx, call)
	if err != nil {
		d.log.Warn("Contact lookup failed", "call_id", call.ID, "error", err)
		return
	}

	providerRef, err := d.gateway.PlaceCall(cctx, telephony.PlaceCallRequest{
		PhoneNumber:    contact.PhoneNumber,
		ScriptTemplate: campaign.ScriptTemplate,
		CallbackURL:    d.cfg.CallbackURL,
	})
	if err == nil {
		applied, tErr := d.lifecycle.MarkInProgress(cctx, call, providerRef)
		if tErr != nil {
			d.log.Error("InProgress transition failed", "call_id", call.ID, "error", tErr)
			return
		}
		if !applied {
			// Aborted mid-dispatch. The ringing call cannot be recalled, but
			// storing the ref lets late callbacks resolve to this row.
			_ = d.callRepo.UpdateFields(cctx, nil, call.ID, map[string]interface{}{
				"provider_call_ref": providerRef,
			})
		}
		return
	}

	class, detail := classifyPlaceCallError(err)
	if errors.Is(err, telephony.ErrRateLimited) {
		d.onRateLimited(campaign)
	}

	finalState, fErr := d.lifecycle.Fail(cctx, call, types.CallStateDispatching, class, detail, campaign.RetryCeiling)
	if fErr != nil {
		d.log.Error("Dispatch failure transition failed", "call_id", call.ID, "error", fErr)
		return
	}
	if domain.IsTerminal(finalState) {
		if _, err := d.campaigns.CheckCompletion(cctx, call.CampaignID); err != nil {
			d.log.Warn("Completion check failed", "campaign_id", call.CampaignID, "error", err)
		}
	}
}

func (d *Dispatcher) contactForCall(ctx context.Context, call *types.Call) (*types.Contact, error) {
	var contact types.Contact
	err := d.db.WithContext(ctx).
		Where("id = ?", call.ContactID).
		Limit(1).
		Find(&contact).Error
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func classifyPlaceCallError(err error) (domain.FailureClass, string) {
	switch {
	case errors.Is(err, telephony.ErrInvalidNumber):
		return domain.FailureInvalidNumber, err.Error()
	case errors.Is(err, telephony.ErrRateLimited):
		return domain.FailureProviderTransient, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout, "placeCall timed out"
	default:
		return domain.FailureProviderTransient, err.Error()
	}
}

// effectiveLimit returns the campaign's current AIMD-adjusted concurrency
// cap, ramping it back up by one per tick after the cooldown.
func (d *Dispatcher) effectiveLimit(campaign *types.Campaign, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.rates[campaign.ID]
	if !ok {
		state = &campaignRate{effective: campaign.ConcurrencyLimit}
		d.rates[campaign.ID] = state
	}
	if state.effective < campaign.ConcurrencyLimit && now.After(state.cooldownUntil) {
		state.effective++
	}
	if state.effective > campaign.ConcurrencyLimit {
		state.effective = campaign.ConcurrencyLimit
	}
	return state.effective
}

func (d *Dispatcher) onRateLimited(campaign *types.Campaign) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.rates[campaign.ID]
	if !ok {
		state = &campaignRate{effective: campaign.ConcurrencyLimit}
		d.rates[campaign.ID] = state
	}
	state.effective /= 2
	if state.effective < 1 {
		state.effective = 1
	}
	state.cooldownUntil = d.now().Add(d.cfg.RateLimitCooldown)
	d.log.Warn("Provider rate limit; halving dispatch rate",
		"campaign_id", campaign.ID,
		"effective_limit", state.effective,
		"cooldown", d.cfg.RateLimitCooldown.String(),
	)
}

func (d *Dispatcher) campaignSemaphore(campaign *types.Campaign) *semaphore.Weighted {
	d.mu.Lock()
	defer d.mu.Unlock()

	sem, ok := d.sems[campaign.ID]
	if !ok {
		sem = semaphore.NewWeighted(int64(campaign.ConcurrencyLimit))
		d.sems[campaign.ID] = sem
	}
	return sem
}
