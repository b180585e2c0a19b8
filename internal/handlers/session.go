package handlers

import (
	"context"
	"errors"
	"net/http"

	"vidmatch/internal/models"
	"vidmatch/internal/services"
	"vidmatch/internal/store"
	"vidmatch/internal/utils"
	"vidmatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	lifecycleService *services.LifecycleService
	statsService     *services.SkipStatsService
}

func NewSessionHandler(lifecycleService *services.LifecycleService, statsService *services.SkipStatsService) *SessionHandler {
	return &SessionHandler{
		lifecycleService: lifecycleService,
		statsService:     statsService,
	}
}

type sessionRequest struct {
	Username      string `json:"username" validate:"required,username"`
	RoomName      string `json:"room_name" validate:"required,room_name"`
	OtherUsername string `json:"other_username" validate:"omitempty,username"`
}

type rematchRequest struct {
	Username    string `json:"username" validate:"required,username"`
	MatchRoom   string `json:"match_room" validate:"required,room_name"`
	MatchedWith string `json:"matched_with" validate:"required,username"`
}

type terminateFunc func(ctx context.Context, username, roomName, otherUsername string) *models.LifecycleResult

// Session Lifecycle

func (h *SessionHandler) ReportDisconnect(c *gin.Context) {
	h.terminate(c, "disconnect", h.lifecycleService.HandleDisconnect)
}

func (h *SessionHandler) ReportSkip(c *gin.Context) {
	h.terminate(c, "skip", h.lifecycleService.HandleSkip)
}

func (h *SessionHandler) ReportSessionEnd(c *gin.Context) {
	h.terminate(c, "end", h.lifecycleService.HandleSessionEnd)
}

func (h *SessionHandler) terminate(c *gin.Context, action string, fn terminateFunc) {
	var req sessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result := fn(c.Request.Context(), req.Username, req.RoomName, req.OtherUsername)
	if result.Status == models.StatusError {
		utils.ErrorResponseWithDetails(c, http.StatusInternalServerError, "Session "+action+" failed", map[string]string{
			"status": string(result.Status),
			"error":  result.Error,
		})
		return
	}

	utils.SuccessResponseWithMessage(c, string(result.Status), result)
}

func (h *SessionHandler) ConfirmRematch(c *gin.Context) {
	var req rematchRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.lifecycleService.ConfirmRematch(c.Request.Context(), req.Username, req.MatchRoom, req.MatchedWith); err != nil {
		logger.LogError(err, "Failed to confirm rematch", map[string]interface{}{
			"username":   req.Username,
			"match_room": req.MatchRoom,
		})
		utils.InternalErrorResponse(c, "Failed to confirm rematch")
		return
	}

	utils.SuccessResponseWithMessage(c, "Rematch confirmed", gin.H{
		"username":     req.Username,
		"match_room":   req.MatchRoom,
		"matched_with": req.MatchedWith,
	})
}

// Per-user state

func (h *SessionHandler) GetSkipStats(c *gin.Context) {
	username := c.Param("username")
	if !utils.ValidateIdentifier(username) {
		utils.ValidationErrorResponse(c, map[string]string{
			"username": "Invalid username",
		})
		return
	}

	stats, err := h.statsService.Get(c.Request.Context(), username)
	if err != nil {
		logger.LogError(err, "Failed to load skip stats", map[string]interface{}{
			"username": username,
		})
		utils.InternalErrorResponse(c, "Failed to load skip stats")
		return
	}

	utils.SuccessResponse(c, stats)
}

func (h *SessionHandler) GetLeftBehind(c *gin.Context) {
	username := c.Param("username")
	if !utils.ValidateIdentifier(username) {
		utils.ValidationErrorResponse(c, map[string]string{
			"username": "Invalid username",
		})
		return
	}

	state, err := h.lifecycleService.LeftBehindStatus(c.Request.Context(), username)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, services.ErrCorruptRecord) {
		utils.NotFoundResponse(c, "No pending recovery")
		return
	}
	if err != nil {
		logger.LogError(err, "Failed to load left-behind state", map[string]interface{}{
			"username": username,
		})
		utils.InternalErrorResponse(c, "Failed to load recovery state")
		return
	}

	utils.SuccessResponse(c, state)
}
