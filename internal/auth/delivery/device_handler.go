package delivery

import (
	"net/http"

	"crmsync-backend/internal/auth/dto"
	"crmsync-backend/internal/auth/repository"

	"github.com/gin-gonic/gin"
)

// DeviceHandler registers FCM tokens for push notifications.
type DeviceHandler struct {
	tokens repository.DeviceTokenRepository
}

func NewDeviceHandler(tokens repository.DeviceTokenRepository) *DeviceHandler {
	return &DeviceHandler{tokens: tokens}
}

// POST /api/fcm/register
func (h *DeviceHandler) Register(c *gin.Context) {
	principal, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req dto.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tokens.Save(c.Request.Context(), principal.UserID, req.Token, req.Platform, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": true})
}

// DELETE /api/fcm/:token
func (h *DeviceHandler) Unregister(c *gin.Context) {
	principal, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	deleted, err := h.tokens.DeleteForUser(c.Request.Context(), principal.UserID, c.Param("token"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unregister device"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not registered"})
		return
	}
	c.Status(http.StatusNoContent)
}
