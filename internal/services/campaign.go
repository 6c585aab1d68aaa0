package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dialbridge-backend/internal/domain"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/repos"
	"github.com/yungbote/dialbridge-backend/internal/sse"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

// ErrValidation marks campaign input rejected before any dispatch. Never
// retried.
var ErrValidation = errors.New("validation failed")

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

type ContactInput struct {
	DisplayName  string            `json:"display_name"`
	PhoneNumber  string            `json:"phone_number"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

type EnqueueCampaignRequest struct {
	Name             string              `json:"name"`
	ScriptTemplate   string              `json:"script_template"`
	Schema           []types.SchemaField `json:"extraction_schema"`
	Contacts         []ContactInput      `json:"contacts"`
	ConcurrencyLimit int                 `json:"concurrency_limit"`
	RetryCeiling     int                 `json:"retry_ceiling,omitempty"`
}

type CampaignSnapshot struct {
	Campaign    *types.Campaign  `json:"campaign"`
	StateCounts map[string]int64 `json:"state_counts"`
}

type CallSummary struct {
	CallID        uuid.UUID                    `json:"call_id"`
	ContactID     uuid.UUID                    `json:"contact_id"`
	DisplayName   string                       `json:"display_name"`
	PhoneNumber   string                       `json:"phone_number"`
	State         string                       `json:"state"`
	AttemptCount  int                          `json:"attempt_count"`
	LastError     string                       `json:"last_error,omitempty"`
	ExtractedData map[string]types.FieldResult `json:"extracted_data,omitempty"`
}

type CampaignReport struct {
	CampaignID      uuid.UUID           `json:"campaign_id"`
	Status          string              `json:"status"`
	AggregateCounts map[string]int64    `json:"aggregate_counts"`
	PerCallSummary  []CallSummary       `json:"per_call_summary"`
	Schema          []types.SchemaField `json:"extraction_schema"`
}

type CampaignService interface {
	Enqueue(ctx context.Context, req EnqueueCampaignRequest) (*types.Campaign, error)
	Abort(ctx context.Context, campaignID uuid.UUID) error
	Snapshot(ctx context.Context, campaignID uuid.UUID) (*CampaignSnapshot, error)
	Report(ctx context.Context, campaignID uuid.UUID) (*CampaignReport, error)
	// CheckCompletion flips a running campaign to completed once every call
	// is terminal, and emits the campaign-complete event. Called after any
	// terminal transition.
	CheckCompletion(ctx context.Context, campaignID uuid.UUID) (bool, error)
}

type campaignService struct {
	db           *gorm.DB
	log          *logger.Logger
	sseHub       *sse.SSEHub
	campaignRepo repos.CampaignRepo
	contactRepo  repos.ContactRepo
	callRepo     repos.CallRepo
	defaultRetry int
	now          func() time.Time
}

func NewCampaignService(db *gorm.DB, log *logger.Logger, sseHub *sse.SSEHub, campaignRepo repos.CampaignRepo, contactRepo repos.ContactRepo, callRepo repos.CallRepo, defaultRetryCeiling int) CampaignService {
	return &campaignService{
		db:           db,
		log:          log.With("service", "CampaignService"),
		sseHub:       sseHub,
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		callRepo:     callRepo,
		defaultRetry: defaultRetryCeiling,
		now:          time.Now,
	}
}

func (s *campaignService) Enqueue(ctx context.Context, req EnqueueCampaignRequest) (*types.Campaign, error) {
	if err := validateEnqueue(req); err != nil {
		return nil, err
	}

	retryCeiling := req.RetryCeiling
	if retryCeiling <= 0 {
		retryCeiling = s.defaultRetry
	}

	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	campaign := &types.Campaign{
		Name:             strings.TrimSpace(req.Name),
		ScriptTemplate:   req.ScriptTemplate,
		ExtractionSchema: datatypes.JSON(schemaJSON),
		ConcurrencyLimit: req.ConcurrencyLimit,
		RetryCeiling:     retryCeiling,
		Status:           types.CampaignStatusRunning,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.campaignRepo.Create(ctx, tx, campaign); err != nil {
			return err
		}

		now := s.now()
		contacts := make([]*types.Contact, 0, len(req.Contacts))
		for _, c := range req.Contacts {
			contact := &types.Contact{
				CampaignID:  campaign.ID,
				DisplayName: strings.TrimSpace(c.DisplayName),
				PhoneNumber: strings.TrimSpace(c.PhoneNumber),
			}
			if len(c.CustomFields) > 0 {
				raw, mErr := json.Marshal(c.CustomFields)
				if mErr != nil {
					return mErr
				}
				contact.CustomFields = datatypes.JSON(raw)
			}
			contacts = append(contacts, contact)
		}
		if _, err := s.contactRepo.CreateBatch(ctx, tx, contacts); err != nil {
			return err
		}

		calls := make([]*types.Call, 0, len(contacts))
		for _, contact := range contacts {
			calls = append(calls, &types.Call{
				CampaignID:  campaign.ID,
				ContactID:   contact.ID,
				State:       types.CallStateQueued,
				ScheduledAt: now,
			})
		}
		_, err := s.callRepo.CreateBatch(ctx, tx, calls)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Campaign enqueued",
		"campaign_id", campaign.ID,
		"contacts", len(req.Contacts),
		"concurrency_limit", campaign.ConcurrencyLimit,
		"retry_ceiling", campaign.RetryCeiling,
	)
	s.sseHub.Broadcast(sse.SSEMessage{
		Channel: sse.CampaignChannel(campaign.ID),
		Event:   sse.SSEEventCampaignStarted,
		Data:    map[string]any{"campaign_id": campaign.ID},
	})
	return campaign, nil
}

func validateEnqueue(req EnqueueCampaignRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name required", ErrValidation)
	}
	if strings.TrimSpace(req.ScriptTemplate) == "" {
		return fmt.Errorf("%w: script_template required", ErrValidation)
	}
	if len(req.Schema) == 0 {
		return fmt.Errorf("%w: extraction_schema must not be empty", ErrValidation)
	}
	seen := map[string]bool{}
	for _, field := range req.Schema {
		name := strings.TrimSpace(field.FieldName)
		if name == "" {
			return fmt.Errorf("%w: schema field with empty field_name", ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate schema field %q", ErrValidation, name)
		}
		seen[name] = true
	}
	if req.ConcurrencyLimit <= 0 {
		return fmt.Errorf("%w: concurrency_limit must be > 0", ErrValidation)
	}
	if len(req.Contacts) == 0 {
		return fmt.Errorf("%w: contacts must not be empty", ErrValidation)
	}
	for i, c := range req.Contacts {
		phone := strings.TrimSpace(c.PhoneNumber)
		if !e164Pattern.MatchString(phone) {
			return fmt.Errorf("%w: contact %d phone_number %q is not E.164", ErrValidation, i, phone)
		}
	}
	return nil
}

func (s *campaignService) Abort(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, nil, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return fmt.Errorf("campaign %s not found", campaignID)
	}

	changed, err := s.campaignRepo.SetStatus(ctx, nil, campaignID, types.CampaignStatusRunning, types.CampaignStatusAborted)
	if err != nil {
		return err
	}
	if !changed {
		// Already completed or aborted; nothing to sweep.
		return nil
	}

	swept, err := s.callRepo.AbortStates(ctx, nil, campaignID, domain.NonTerminalStates())
	if err != nil {
		return err
	}

	s.log.Info("Campaign aborted", "campaign_id", campaignID, "calls_swept", swept)
	s.sseHub.Broadcast(sse.SSEMessage{
		Channel: sse.CampaignChannel(campaignID),
		Event:   sse.SSEEventCampaignAborted,
		Data:    map[string]any{"campaign_id": campaignID, "calls_swept": swept},
	})
	return nil
}

func (s *campaignService) Snapshot(ctx context.Context, campaignID uuid.UUID) (*CampaignSnapshot, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}
	counts, err := s.callRepo.CountByState(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignSnapshot{Campaign: campaign, StateCounts: counts}, nil
}

func (s *campaignService) Report(ctx context.Context, campaignID uuid.UUID) (*CampaignReport, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}

	counts, err := s.callRepo.CountByState(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	calls, err := s.callRepo.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	contacts, err := s.contactRepo.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	contactsByID := make(map[uuid.UUID]*types.Contact, len(contacts))
	for _, c := range contacts {
		contactsByID[c.ID] = c
	}

	var schema []types.SchemaField
	if len(campaign.ExtractionSchema) > 0 {
		if err := json.Unmarshal(campaign.ExtractionSchema, &schema); err != nil {
			return nil, fmt.Errorf("unmarshal campaign schema: %w", err)
		}
	}

	summaries := make([]CallSummary, 0, len(calls))
	for _, call := range calls {
		summary := CallSummary{
			CallID:       call.ID,
			ContactID:    call.ContactID,
			State:        call.State,
			AttemptCount: call.AttemptCount,
		}
		if call.State == types.CallStateFailedPermanently {
			summary.LastError = call.LastError
		}
		if contact := contactsByID[call.ContactID]; contact != nil {
			summary.DisplayName = contact.DisplayName
			summary.PhoneNumber = contact.PhoneNumber
		}
		if len(call.ExtractedData) > 0 {
			var extracted map[string]types.FieldResult
			if err := json.Unmarshal(call.ExtractedData, &extracted); err == nil {
				summary.ExtractedData = extracted
			}
		}
		summaries = append(summaries, summary)
	}

	return &CampaignReport{
		CampaignID:      campaignID,
		Status:          campaign.Status,
		AggregateCounts: counts,
		PerCallSummary:  summaries,
		Schema:          schema,
	}, nil
}

func (s *campaignService) CheckCompletion(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	counts, err := s.callRepo.CountByState(ctx, nil, campaignID)
	if err != nil {
		return false, err
	}
	for _, state := range domain.NonTerminalStates() {
		if counts[state] > 0 {
			return false, nil
		}
	}

	changed, err := s.campaignRepo.SetStatus(ctx, nil, campaignID, types.CampaignStatusRunning, types.CampaignStatusCompleted)
	if err != nil {
		return false, err
	}
	if !changed {
		// Aborted campaigns keep their status even when stragglers land.
		return false, nil
	}

	s.log.Info("Campaign completed", "campaign_id", campaignID, "counts", counts)
	s.sseHub.Broadcast(sse.SSEMessage{
		Channel: sse.CampaignChannel(campaignID),
		Event:   sse.SSEEventCampaignCompleted,
		Data:    map[string]any{"campaign_id": campaignID, "state_counts": counts},
	})
	return true, nil
}
