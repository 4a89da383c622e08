package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// Challenge handles the challenge request
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
		Chain   string `json:"chain" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, challenge, err := h.authService.CreateChallenge(c.Request.Context(), req.Address, core.ParseChain(req.Chain))
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to create challenge"

		switch {
		case errors.Is(err, core.ErrUnsupportedChain):
			statusCode = http.StatusBadRequest
			errorMsg = "Unsupported chain"
		case errors.Is(err, core.ErrInvalidFormat):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid address"
		case errors.Is(err, core.ErrStoreUnavailable):
			statusCode = http.StatusServiceUnavailable
			errorMsg = "Service unavailable"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"message":    challenge.Message,
		"address":    challenge.Address,
		"chain":      challenge.Chain,
		"nonce":      challenge.Nonce,
		"issued_at":  challenge.IssuedAt.UnixMilli(),
		"expires_at": challenge.ExpiresAt.UnixMilli(),
	})
}

// Verify handles a signed challenge
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Token     string `json:"token" binding:"required"`
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.authService.Login(c.Request.Context(), service.LoginRequest{
		ChallengeToken: req.Token,
		Address:        req.Address,
		Signature:      req.Signature,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Authentication failed"

		// Malformed input and wrong signers share one message
		switch {
		case errors.Is(err, core.ErrVerificationFailed):
			statusCode = http.StatusUnauthorized
			errorMsg = core.ErrVerificationFailed.Error()
		case errors.Is(err, core.ErrChallengeReplayed):
			statusCode = http.StatusUnauthorized
			errorMsg = "Challenge already used"
		case errors.Is(err, core.ErrChallengeExpired):
			statusCode = http.StatusBadRequest
			errorMsg = "Challenge token expired"
		case errors.Is(err, core.ErrInvalidChallenge):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid challenge token"
		case errors.Is(err, core.ErrStoreUnavailable):
			statusCode = http.StatusServiceUnavailable
			errorMsg = "Service unavailable"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":   res.Valid,
		"address": res.RecoveredAddress,
		"chain":   res.Chain,
	})
}

// Health reports liveness, and store reachability when ping is set
func Health(ping PingFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			if err := ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
