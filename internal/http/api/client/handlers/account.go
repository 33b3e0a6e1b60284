package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ziling35/accountpool/internal/allocator"
)

// AccountHandler serves account assignment requests.
type AccountHandler struct {
	alloc *allocator.Allocator // Assignment engine.
}

// NewAccountHandler constructs an account handler.
func NewAccountHandler(alloc *allocator.Allocator) *AccountHandler {
	return &AccountHandler{alloc: alloc}
}

// keyCodeFromRequest reads the key code from the X-API-Key header, falling
// back to the `key` query parameter.
func keyCodeFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query("key"))
}

// deviceIDFromRequest reads the device identifier from the X-Device-ID
// header, falling back to the `device_id` query parameter.
func deviceIDFromRequest(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Device-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(c.Query("device_id"))
}

// Get assigns an account to the presented key.
func (h *AccountHandler) Get(c *gin.Context) {
	keyCode := keyCodeFromRequest(c)
	if keyCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	assignment, errAssign := h.alloc.Assign(c.Request.Context(), keyCode, deviceIDFromRequest(c), c.ClientIP())
	if errAssign != nil {
		writeAllocatorError(c, errAssign)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":    assignment.Email,
		"password": assignment.Password,
		"api_key":  assignment.APIKey,
		"name":     assignment.Name,
	})
}

// writeAllocatorError maps a typed allocator failure to an HTTP response.
func writeAllocatorError(c *gin.Context, err error) {
	var typed *allocator.Error
	status := http.StatusInternalServerError
	message := "internal error"
	retryAfter := 0

	switch allocator.KindOf(err) {
	case allocator.KindNotFound:
		status, message = http.StatusNotFound, "invalid key"
	case allocator.KindKeyDisabled:
		status, message = http.StatusForbidden, "key disabled"
	case allocator.KindKeyExpired:
		status, message = http.StatusForbidden, "key expired"
	case allocator.KindRateLimited:
		status, message = http.StatusTooManyRequests, "too many requests"
	case allocator.KindQuotaExhausted:
		status, message = http.StatusForbidden, "key quota exhausted"
	case allocator.KindNoAccounts:
		status, message = http.StatusServiceUnavailable, "no accounts available"
	case allocator.KindNoNewAccount:
		status, message = http.StatusConflict, "no new account available for this key"
	case allocator.KindDeviceLimit:
		status, message = http.StatusForbidden, "device limit exceeded"
	case allocator.KindAuthFailure:
		status, message = http.StatusBadGateway, "account login failed"
	case allocator.KindContention:
		status, message = http.StatusServiceUnavailable, "busy, try again"
		retryAfter = 1
	}

	if errors.As(err, &typed) && typed.RetryAfter > 0 {
		seconds := int(typed.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		retryAfter = seconds
	}
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	c.JSON(status, gin.H{"error": message})
}
