package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marcelg7/hayacs-sub004/internal/auth"
	"github.com/marcelg7/hayacs-sub004/internal/tasks"
)

// ACSHandler is the device-facing CWMP session endpoint. A session is one
// authenticated POST: the device reports outcomes for tasks it executed,
// and the response carries the next batch to run. Authentication happens in
// middleware before this handler is reached.
type ACSHandler struct {
	store  *tasks.Store
	logger *slog.Logger
}

func NewACSHandler(store *tasks.Store, logger *slog.Logger) *ACSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ACSHandler{
		store:  store,
		logger: logger,
	}
}

type taskOutcome struct {
	TaskID  int64  `json:"task_id"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Fault   string `json:"fault,omitempty"`
}

type sessionRequest struct {
	DeviceID  string        `json:"device_id"`
	Responses []taskOutcome `json:"responses,omitempty"`
}

type sessionTask struct {
	TaskID      int64  `json:"task_id"`
	TaskType    string `json:"task_type"`
	Description string `json:"description,omitempty"`
	// Verify marks a re-delivered set_parameter_values task whose written
	// value the device must confirm with a read.
	Verify bool `json:"verify,omitempty"`
}

type sessionResponse struct {
	SessionID string        `json:"session_id"`
	Tasks     []sessionTask `json:"tasks"`
}

func (h *ACSHandler) HandleSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session body"})
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	sessionID := uuid.NewString()
	username := auth.AuthenticatedUsername(c)
	ctx := c.Request.Context()

	h.reconcileResponses(c, sessionID, deviceID, req.Responses)

	dispatched, err := h.store.SelectForDispatch(ctx, deviceID)
	if err != nil {
		h.logger.Error("task_dispatch_failed",
			slog.String("session_id", sessionID),
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to select tasks"})
		return
	}

	payload := make([]sessionTask, 0, len(dispatched))
	for _, task := range dispatched {
		payload = append(payload, sessionTask{
			TaskID:      task.ID,
			TaskType:    string(task.Type),
			Description: task.Description,
			Verify:      task.Status == tasks.StatusVerifying,
		})
	}

	h.logger.Info("device_session",
		slog.String("session_id", sessionID),
		slog.String("device_id", deviceID),
		slog.String("username", username),
		slog.Int("responses", len(req.Responses)),
		slog.Int("dispatched", len(payload)))

	c.JSON(http.StatusOK, sessionResponse{
		SessionID: sessionID,
		Tasks:     payload,
	})
}

// reconcileResponses applies device-reported outcomes to in-flight tasks.
// Outcomes are scoped to the session's device, so one device cannot resolve
// another device's tasks. A response for a task the sweeper already failed
// (or that never existed) is logged and dropped; the device is not at fault
// for answering late.
func (h *ACSHandler) reconcileResponses(c *gin.Context, sessionID string, deviceID string, responses []taskOutcome) {
	ctx := c.Request.Context()
	for _, response := range responses {
		var err error
		if response.Success {
			err = h.store.Complete(ctx, deviceID, response.TaskID, response.Result)
		} else {
			fault := strings.TrimSpace(response.Fault)
			if fault == "" {
				fault = "device reported an unspecified fault"
			}
			err = h.store.Fail(ctx, deviceID, response.TaskID, fault)
		}
		switch {
		case err == nil:
		case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, tasks.ErrTaskNotInFlight):
			h.logger.Warn("stale_task_response",
				slog.String("session_id", sessionID),
				slog.String("device_id", deviceID),
				slog.Int64("task_id", response.TaskID),
				slog.String("reason", err.Error()))
		default:
			h.logger.Error("task_reconcile_failed",
				slog.String("session_id", sessionID),
				slog.String("device_id", deviceID),
				slog.Int64("task_id", response.TaskID),
				slog.String("error", err.Error()))
		}
	}
}
