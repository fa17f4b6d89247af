package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marcelg7/hayacs-sub004/internal/tasks"
)

const maxBulkCancelIDs = 1000

// TaskHandler is the operator-facing task API consumed by the web UI and
// workflow automation.
type TaskHandler struct {
	store *tasks.Store
}

func NewTaskHandler(store *tasks.Store) *TaskHandler {
	return &TaskHandler{store: store}
}

type createTaskRequest struct {
	DeviceID        string `json:"device_id"`
	TaskType        string `json:"task_type"`
	Description     string `json:"description,omitempty"`
	InitiatorUserID *int64 `json:"initiator_user_id,omitempty"`
}

type bulkCancelRequest struct {
	TaskIDs []int64 `json:"task_ids"`
}

type taskResponse struct {
	TaskID          int64      `json:"task_id"`
	DeviceID        string     `json:"device_id"`
	TaskType        string     `json:"task_type"`
	Status          string     `json:"status"`
	InitiatorUserID *int64     `json:"initiator_user_id,omitempty"`
	Description     string     `json:"description,omitempty"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	DeadlineAt      *time.Time `json:"deadline_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type listTasksResponse struct {
	Items []taskResponse `json:"items"`
	Total int            `json:"total"`
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}
	taskType, err := tasks.ParseType(req.TaskType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.store.Create(c.Request.Context(), tasks.CreateParams{
		DeviceID:        req.DeviceID,
		Type:            taskType,
		Description:     req.Description,
		InitiatorUserID: req.InitiatorUserID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}
	c.JSON(http.StatusCreated, buildTaskResponse(task))
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}
	task, err := h.store.Get(c.Request.Context(), taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}
	c.JSON(http.StatusOK, buildTaskResponse(task))
}

func (h *TaskHandler) ListDeviceTasks(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Param("device_id"))
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}
	deviceTasks, err := h.store.ListByDevice(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}

	items := make([]taskResponse, 0, len(deviceTasks))
	for _, task := range deviceTasks {
		items = append(items, buildTaskResponse(task))
	}
	c.JSON(http.StatusOK, listTasksResponse{
		Items: items,
		Total: len(items),
	})
}

// CancelTask cancels one pending task. Cancelling a task that already left
// pending is a no-op reported as a conflict, not a server error.
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}
	err := h.store.Cancel(c.Request.Context(), taskID)
	switch {
	case err == nil:
		task, getErr := h.store.Get(c.Request.Context(), taskID)
		if getErr != nil {
			c.JSON(http.StatusOK, gin.H{"cancelled": true})
			return
		}
		c.JSON(http.StatusOK, buildTaskResponse(task))
	case errors.Is(err, tasks.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, tasks.ErrTaskNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "task is no longer pending"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel task"})
	}
}

// BulkCancelTasks cancels every listed task that is still pending and
// reports the count actually transitioned; ids that no longer qualify are
// skipped silently.
func (h *TaskHandler) BulkCancelTasks(c *gin.Context) {
	var req bulkCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.TaskIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_ids is required"})
		return
	}
	if len(req.TaskIDs) > maxBulkCancelIDs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many task_ids"})
		return
	}

	cancelled, err := h.store.CancelMany(c.Request.Context(), req.TaskIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func parseTaskID(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.Param("task_id"))
	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id must be a positive integer"})
		return 0, false
	}
	return taskID, true
}

func buildTaskResponse(task tasks.Task) taskResponse {
	return taskResponse{
		TaskID:          task.ID,
		DeviceID:        task.DeviceID,
		TaskType:        string(task.Type),
		Status:          string(task.Status),
		InitiatorUserID: task.InitiatorUserID,
		Description:     task.Description,
		Result:          task.Result,
		Error:           task.ErrorMessage,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
		SentAt:          task.SentAt,
		DeadlineAt:      task.DeadlineAt,
		CompletedAt:     task.CompletedAt,
	}
}
