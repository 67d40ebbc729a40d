package handlers

import (
	"net/http"

	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/messaging"
	"github.com/gin-gonic/gin"
)

type MessagesHandler struct {
	svc Console
}

func NewMessagesHandler(svc Console) *MessagesHandler {
	return &MessagesHandler{svc: svc}
}

type SendMessageRequest struct {
	Template string   `json:"template" binding:"required"`
	UserIDs  []string `json:"userIds" binding:"omitempty,max=1000,dive,required"`
	Force    bool     `json:"force"`
}

func (h *MessagesHandler) Templates(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"templates": messaging.Templates()})
}

// Eligible lists cached users the template applies to. Query: template (required).
func (h *MessagesHandler) Eligible(ctx *gin.Context) {
	key := messaging.TemplateKey(ctx.Query("template"))
	if key == "" {
		RespondBadRequest(ctx, "template query parameter is required", nil)
		return
	}

	rows, err := h.svc.EligibleForMessage(ctx.Request.Context(), key)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	if rows == nil {
		rows = []console.UserRow{}
	}
	ctx.JSON(http.StatusOK, gin.H{"template": key, "total": len(rows), "users": rows})
}

func (h *MessagesHandler) Send(ctx *gin.Context) {
	var req SendMessageRequest
	if !BindJSON(ctx, &req) {
		return
	}

	tally, err := h.svc.Message(ctx.Request.Context(), messaging.TemplateKey(req.Template), req.UserIDs, req.Force)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, tally)
}
