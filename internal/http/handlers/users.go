package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

type UsersHandler struct {
	svc Console
}

func NewUsersHandler(svc Console) *UsersHandler {
	return &UsersHandler{svc: svc}
}

type BulkDeleteRequest struct {
	UserIDs  []string `json:"userIds" binding:"required,min=1,max=1000,dive,required"`
	OnlySafe bool     `json:"onlySafe"`
}

// Hydrate pulls the full directory into the cache.
func (h *UsersHandler) Hydrate(ctx *gin.Context) {
	res, err := h.svc.Hydrate(ctx.Request.Context())
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// List serves the classified overview from the cache.
//
// Query: search, role, label, safeOnly.
func (h *UsersHandler) List(ctx *gin.Context) {
	f := console.Filter{
		Search: ctx.Query("search"),
		Role:   user.Role(strings.ToLower(strings.TrimSpace(ctx.Query("role")))),
		Label:  lifecycle.Label(strings.TrimSpace(ctx.Query("label"))),
	}

	if f.Role != "" && !f.Role.IsValid() {
		RespondBadRequest(ctx, "Invalid role filter", gin.H{"role": f.Role})
		return
	}

	if raw := ctx.Query("safeOnly"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondBadRequest(ctx, "safeOnly must be a boolean", gin.H{"safeOnly": raw})
			return
		}
		f.SafeOnly = v
	}

	ov, err := h.svc.Overview(ctx.Request.Context(), f)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	RespondJSONWithETag(ctx, http.StatusOK, ov)
}

func (h *UsersHandler) Get(ctx *gin.Context) {
	row, err := h.svc.User(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, row)
}

func (h *UsersHandler) Delete(ctx *gin.Context) {
	res, err := h.svc.DeleteUser(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// BulkDelete always answers 200 with the tally; per-id failures are inside it.
func (h *UsersHandler) BulkDelete(ctx *gin.Context) {
	var req BulkDeleteRequest
	if !BindJSON(ctx, &req) {
		return
	}

	res, err := h.svc.BulkDelete(ctx.Request.Context(), req.UserIDs, req.OnlySafe)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *UsersHandler) Analyze(ctx *gin.Context) {
	res, err := h.svc.Analyze(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *UsersHandler) ClearCache(ctx *gin.Context) {
	if err := h.svc.ClearCache(ctx.Request.Context()); err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *UsersHandler) CleanupOrphans(ctx *gin.Context) {
	res, err := h.svc.CleanupOrphans(ctx.Request.Context())
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}
