package handlers

import (
	"net/http"

	"vidmatch/internal/models"
	"vidmatch/internal/services"
	"vidmatch/internal/utils"
	"vidmatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

type QueueHandler struct {
	queueService    *services.QueueService
	matchingService *services.MatchingService
}

func NewQueueHandler(queueService *services.QueueService, matchingService *services.MatchingService) *QueueHandler {
	return &QueueHandler{
		queueService:    queueService,
		matchingService: matchingService,
	}
}

type enqueueRequest struct {
	Username string `json:"username" validate:"required,username"`
	UseDemo  bool   `json:"use_demo"`
	Priority string `json:"priority" validate:"priority"`
	RoomName string `json:"room_name" validate:"omitempty,room_name"`
}

type matchRequest struct {
	Username string `json:"username" validate:"required,username"`
	UseDemo  bool   `json:"use_demo"`
	Exclude  string `json:"exclude" validate:"omitempty,username"`
}

// Queue Management

func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if !bindAndValidate(c, &req) {
		return
	}

	priority := models.PriorityState(req.Priority)
	if priority == "" {
		priority = models.PriorityWaiting
	}

	entry, err := h.queueService.Enqueue(c.Request.Context(), req.Username, req.UseDemo, priority, req.RoomName)
	if err != nil {
		logger.LogError(err, "Failed to enqueue user", map[string]interface{}{
			"username": req.Username,
		})
		utils.InternalErrorResponse(c, "Failed to join queue")
		return
	}

	utils.SuccessResponseWithMessage(c, "Added to queue", entry)
}

func (h *QueueHandler) Dequeue(c *gin.Context) {
	username := c.Param("username")
	if !utils.ValidateIdentifier(username) {
		utils.ValidationErrorResponse(c, map[string]string{
			"username": "Invalid username",
		})
		return
	}

	if err := h.queueService.Dequeue(c.Request.Context(), username); err != nil {
		logger.LogError(err, "Failed to dequeue user", map[string]interface{}{
			"username": username,
		})
		utils.InternalErrorResponse(c, "Failed to leave queue")
		return
	}

	utils.SuccessResponseWithMessage(c, "Removed from queue", gin.H{
		"username": username,
	})
}

// Matching

func (h *QueueHandler) RequestMatch(c *gin.Context) {
	var req matchRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.matchingService.FindMatch(c.Request.Context(), services.MatchRequest{
		Username: req.Username,
		UseDemo:  req.UseDemo,
		Exclude:  req.Exclude,
	})
	if err != nil {
		logger.LogError(err, "Match request failed", map[string]interface{}{
			"username": req.Username,
		})
		utils.InternalErrorResponse(c, "Failed to find a match")
		return
	}

	if !result.Matched {
		utils.SuccessResponseWithMessage(c, string(models.StatusNoMatchFound), result)
		return
	}
	utils.SuccessResponseWithMessage(c, "Match found", result)
}

// bindAndValidate decodes the JSON body into req and runs the struct
// validators, writing the 400 response itself on failure.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		utils.ValidationErrorResponse(c, utils.ValidationDetails(errs))
		return false
	}
	return true
}
