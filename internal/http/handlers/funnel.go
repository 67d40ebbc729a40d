package handlers

import (
	"net/http"
	"strings"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type FunnelHandler struct {
	svc Console
}

func NewFunnelHandler(svc Console) *FunnelHandler {
	return &FunnelHandler{svc: svc}
}

type UpdateFunnelStageRequest struct {
	UserIDs []string `json:"userIds" binding:"required,min=1,max=1000,dive,required"`
	Stage   string   `json:"funnelStage" binding:"required,oneof=itinerary_demo spots_demo updates_only full_app none"`
}

func (h *FunnelHandler) Journey(ctx *gin.Context) {
	view, err := h.svc.Journey(ctx.Request.Context())
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	RespondJSONWithETag(ctx, http.StatusOK, view)
}

// Funnel lists demo-stage users. Query: stage (optional).
func (h *FunnelHandler) Funnel(ctx *gin.Context) {
	stage := user.FunnelStage(strings.TrimSpace(ctx.Query("stage")))

	view, err := h.svc.Funnel(ctx.Request.Context(), stage)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	RespondJSONWithETag(ctx, http.StatusOK, view)
}

func (h *FunnelHandler) UpdateStage(ctx *gin.Context) {
	var req UpdateFunnelStageRequest
	if !BindJSON(ctx, &req) {
		return
	}

	tally, err := h.svc.UpdateFunnelStage(ctx.Request.Context(), req.UserIDs, user.FunnelStage(req.Stage))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, tally)
}
