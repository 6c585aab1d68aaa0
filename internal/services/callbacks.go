package services

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/domain"
	"github.com/yungbote/dialbridge-backend/internal/extraction"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/repos"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

// CallbackService consumes provider status events off the bus and drives the
// call state machine. The webhook handler never does this work inline; it
// publishes and returns.
type CallbackService interface {
	Start(ctx context.Context) error
	// Apply processes one status event. Exposed so tests can drive events
	// synchronously without a bus.
	Apply(ctx context.Context, evt telephony.StatusEvent)
}

type callbackService struct {
	db             *gorm.DB
	log            *logger.Logger
	bus            telephony.StatusBus
	gateway        telephony.Gateway
	pipeline       *extraction.Pipeline
	lifecycle      *CallLifecycle
	campaigns      CampaignService
	callRepo       repos.CallRepo
	eventRepo      repos.CallEventRepo
	campaignRepo   repos.CampaignRepo
	processTimeout time.Duration
}

func NewCallbackService(
	db *gorm.DB,
	log *logger.Logger,
	bus telephony.StatusBus,
	gateway telephony.Gateway,
	pipeline *extraction.Pipeline,
	lifecycle *CallLifecycle,
	campaigns CampaignService,
	callRepo repos.CallRepo,
	eventRepo repos.CallEventRepo,
	campaignRepo repos.CampaignRepo,
	processTimeout time.Duration,
) CallbackService {
	if processTimeout <= 0 {
		processTimeout = 5 * time.Minute
	}
	return &callbackService{
		db:             db,
		log:            log.With("service", "CallbackService"),
		bus:            bus,
		gateway:        gateway,
		pipeline:       pipeline,
		lifecycle:      lifecycle,
		campaigns:      campaigns,
		callRepo:       callRepo,
		eventRepo:      eventRepo,
		campaignRepo:   campaignRepo,
		processTimeout: processTimeout,
	}
}

func (s *callbackService) Start(ctx context.Context) error {
	return s.bus.StartForwarder(ctx, func(evt telephony.StatusEvent) {
		s.Apply(ctx, evt)
	})
}

func (s *callbackService) Apply(ctx context.Context, evt telephony.StatusEvent) {
	if !telephony.IsTerminalStatus(evt.Status) {
		s.recordEvent(ctx, nil, evt, false, "non-terminal status ignored")
		return
	}

	call, err := s.callRepo.GetByProviderRef(ctx, nil, evt.ProviderCallRef)
	if err != nil {
		s.log.Error("Callback lookup failed", "provider_call_ref", evt.ProviderCallRef, "error", err)
		return
	}
	if call == nil {
		s.recordEvent(ctx, nil, evt, false, "unknown provider_call_ref")
		return
	}

	// Providers deliver at-least-once; a repeat for a settled call must not
	// double-count or re-trigger downstream work.
	if domain.IsTerminal(call.State) {
		s.recordEvent(ctx, call, evt, false, "call already terminal")
		return
	}

	if evt.Status == telephony.StatusCompleted {
		applied, err := s.lifecycle.Succeed(ctx, call)
		if err != nil {
			s.log.Error("Succeed transition failed", "call_id", call.ID, "error", err)
			return
		}
		s.recordEvent(ctx, call, evt, applied, "")
		if !applied {
			return
		}
		// Transcript fetch and extraction are slow; give them their own
		// goroutine so the forwarder keeps draining the bus.
		go s.processCompletedCall(call, evt.RecordingURL)
		return
	}

	campaign, err := s.campaignRepo.GetByID(ctx, nil, call.CampaignID)
	if err != nil || campaign == nil {
		s.log.Error("Campaign lookup failed for callback", "call_id", call.ID, "error", err)
		return
	}

	class := FailureClassForStatus(evt.Status)
	detail := evt.Status
	if evt.ErrorDetail != "" {
		detail = evt.Status + ": " + evt.ErrorDetail
	}
	finalState, err := s.lifecycle.Fail(ctx, call, types.CallStateInProgress, class, detail, campaign.RetryCeiling)
	if err != nil {
		s.log.Error("Fail transition failed", "call_id", call.ID, "error", err)
		return
	}
	s.recordEvent(ctx, call, evt, finalState != "", "")
	if domain.IsTerminal(finalState) {
		if _, err := s.campaigns.CheckCompletion(ctx, call.CampaignID); err != nil {
			s.log.Warn("Completion check failed", "campaign_id", call.CampaignID, "error", err)
		}
	}
}

func (s *callbackService) processCompletedCall(call *types.Call, recordingURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.processTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Completed-call processing panic", "call_id", call.ID, "panic", r)
		}
	}()

	providerRef := ""
	if call.ProviderCallRef != nil {
		providerRef = *call.ProviderCallRef
	}

	transcript, err := s.gateway.FetchTranscript(ctx, providerRef, recordingURL)
	if err != nil {
		s.log.Warn("Transcript fetch failed; call stays succeeded without extraction",
			"call_id", call.ID,
			"error", err,
		)
		s.finishCompleted(ctx, call)
		return
	}

	if err := s.callRepo.UpdateFields(ctx, nil, call.ID, map[string]interface{}{
		"transcript": transcript,
	}); err != nil {
		s.log.Error("Transcript persist failed", "call_id", call.ID, "error", err)
		s.finishCompleted(ctx, call)
		return
	}

	campaign, err := s.campaignRepo.GetByID(ctx, nil, call.CampaignID)
	if err != nil || campaign == nil {
		s.log.Error("Campaign lookup failed for extraction", "call_id", call.ID, "error", err)
		s.finishCompleted(ctx, call)
		return
	}

	var schema []types.SchemaField
	if err := json.Unmarshal(campaign.ExtractionSchema, &schema); err != nil {
		s.log.Error("Campaign schema unreadable", "campaign_id", campaign.ID, "error", err)
		s.finishCompleted(ctx, call)
		return
	}

	results := s.pipeline.Extract(ctx, transcript, schema)
	raw, err := json.Marshal(results)
	if err != nil {
		s.log.Error("Extraction results marshal failed", "call_id", call.ID, "error", err)
		s.finishCompleted(ctx, call)
		return
	}
	if err := s.callRepo.UpdateFields(ctx, nil, call.ID, map[string]interface{}{
		"extracted_data": raw,
	}); err != nil {
		s.log.Error("Extraction results persist failed", "call_id", call.ID, "error", err)
	}
	s.finishCompleted(ctx, call)
}

func (s *callbackService) finishCompleted(ctx context.Context, call *types.Call) {
	if _, err := s.campaigns.CheckCompletion(ctx, call.CampaignID); err != nil {
		s.log.Warn("Completion check failed", "campaign_id", call.CampaignID, "error", err)
	}
}

func (s *callbackService) recordEvent(ctx context.Context, call *types.Call, evt telephony.StatusEvent, applied bool, detail string) {
	event := &types.CallEvent{
		ProviderCallRef: evt.ProviderCallRef,
		Status:          evt.Status,
		Applied:         applied,
		Detail:          detail,
	}
	if call != nil {
		event.CallID = &call.ID
	}
	if _, err := s.eventRepo.Create(ctx, nil, event); err != nil {
		s.log.Warn("Call event record failed", "provider_call_ref", evt.ProviderCallRef, "error", err)
	}
}
