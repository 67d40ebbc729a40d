package handlers

import (
	"net/http"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// ManageHandler edits one user's journey stage, state, flags and trips.
type ManageHandler struct {
	svc Console
}

func NewManageHandler(svc Console) *ManageHandler {
	return &ManageHandler{svc: svc}
}

type UpdateStageRequest struct {
	Stage string `json:"stage" binding:"required,oneof=journeyStage userState"`
	Value string `json:"value" binding:"required"`
}

type UpdateFlagRequest struct {
	Flag  string `json:"flag" binding:"required"`
	Value *bool  `json:"value" binding:"required"`
}

type CleanupDuplicatesRequest struct {
	KeepTripID string `json:"keepTripId" binding:"required"`
}

type ResetJourneyRequest struct {
	JourneyStage string `json:"journeyStage" binding:"required,oneof=new_user profile_complete trip_set_done itinerary_complete"`
	UserState    string `json:"userState" binding:"required,oneof=active inactive abandoned demo demo_only"`
}

func (h *ManageHandler) Stages(ctx *gin.Context) {
	st, err := h.svc.Stages(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

func (h *ManageHandler) UpdateStage(ctx *gin.Context) {
	var req UpdateStageRequest
	if !BindJSON(ctx, &req) {
		return
	}

	st, err := h.svc.UpdateStage(ctx.Request.Context(), ctx.Param("id"), user.StageField(req.Stage), req.Value)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

func (h *ManageHandler) UpdateFlag(ctx *gin.Context) {
	var req UpdateFlagRequest
	if !BindJSON(ctx, &req) {
		return
	}

	st, err := h.svc.UpdateFlag(ctx.Request.Context(), ctx.Param("id"), user.Flag(req.Flag), *req.Value)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

// ResetStage clears one journey stage. Path: /users/:id/stages/:stage/reset.
func (h *ManageHandler) ResetStage(ctx *gin.Context) {
	st, err := h.svc.ResetStage(ctx.Request.Context(), ctx.Param("id"), user.JourneyStage(ctx.Param("stage")))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

func (h *ManageHandler) Account(ctx *gin.Context) {
	view, err := h.svc.Account(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (h *ManageHandler) CleanupDuplicates(ctx *gin.Context) {
	var req CleanupDuplicatesRequest
	if !BindJSON(ctx, &req) {
		return
	}

	res, err := h.svc.CleanupDuplicateTrips(ctx.Request.Context(), ctx.Param("id"), req.KeepTripID)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *ManageHandler) ResetJourney(ctx *gin.Context) {
	var req ResetJourneyRequest
	if !BindJSON(ctx, &req) {
		return
	}

	st, err := h.svc.ResetJourney(ctx.Request.Context(), ctx.Param("id"),
		user.JourneyStage(req.JourneyStage), user.State(req.UserState))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}
