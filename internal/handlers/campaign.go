package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/services"
)

type CampaignHandler struct {
	log             *logger.Logger
	campaignService services.CampaignService
}

func NewCampaignHandler(log *logger.Logger, campaignService services.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		log:             log.With("handler", "CampaignHandler"),
		campaignService: campaignService,
	}
}

func (h *CampaignHandler) Enqueue(c *gin.Context) {
	var req services.EnqueueCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	campaign, err := h.campaignService.Enqueue(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			RespondError(c, http.StatusBadRequest, "campaign_rejected", err)
			return
		}
		h.log.Error("Enqueue failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"campaign": campaign})
}

func (h *CampaignHandler) Abort(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_campaign_id", err)
		return
	}
	if err := h.campaignService.Abort(c.Request.Context(), campaignID); err != nil {
		h.log.Error("Abort failed", "error", err, "campaign_id", campaignID)
		RespondError(c, http.StatusInternalServerError, "abort_failed", err)
		return
	}
	RespondOK(c, gin.H{"campaign_id": campaignID, "status": "aborted"})
}

func (h *CampaignHandler) Snapshot(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_campaign_id", err)
		return
	}
	snapshot, err := h.campaignService.Snapshot(c.Request.Context(), campaignID)
	if err != nil {
		h.log.Error("Snapshot failed", "error", err, "campaign_id", campaignID)
		RespondError(c, http.StatusNotFound, "campaign_not_found", err)
		return
	}
	RespondOK(c, snapshot)
}

func (h *CampaignHandler) Report(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_campaign_id", err)
		return
	}
	report, err := h.campaignService.Report(c.Request.Context(), campaignID)
	if err != nil {
		h.log.Error("Report failed", "error", err, "campaign_id", campaignID)
		RespondError(c, http.StatusNotFound, "campaign_not_found", err)
		return
	}
	RespondOK(c, report)
}
