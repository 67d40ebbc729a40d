package handlers

import (
	"net/http"
	"time"

	"github.com/geocoder89/tripadmin/internal/security"
	"github.com/gin-gonic/gin"
)

const adminRole = "admin"

type TokenIssuer interface {
	GenerateAccessToken(subject, role string) (string, time.Time, error)
}

type CredentialVerifier interface {
	Verify(username, password string) error
}

type AuthHandler struct {
	creds CredentialVerifier
	jwt   TokenIssuer
}

func NewAuthHandler(creds CredentialVerifier, jwt TokenIssuer) *AuthHandler {
	return &AuthHandler{creds: creds, jwt: jwt}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=128"`
	Password string `json:"password" binding:"required,max=256"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if err := h.creds.Verify(req.Username, req.Password); err != nil {
		_ = ctx.Error(security.ErrInvalidCredentials)
		RespondError(ctx, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password", nil)
		return
	}

	token, exp, err := h.jwt.GenerateAccessToken(req.Username, adminRole)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	ctx.JSON(http.StatusOK, LoginResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp})
}
