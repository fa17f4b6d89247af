package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marcelg7/hayacs-sub004/internal/persistence"
)

var ErrTaskNotFound = errors.New("task not found")
var ErrTaskNotPending = errors.New("task is not pending")
var ErrTaskNotInFlight = errors.New("task is not awaiting a device response")

const timeoutErrorMessage = "timed out waiting for device response"
const verifyTimeoutErrorMessage = "device never confirmed the written value"

// Store is the task lifecycle manager. All status transitions go through
// conditional UPDATEs so that concurrent dispatch, device responses,
// cancellation, and the timeout sweep can never double-transition a task.
type Store struct {
	db     *persistence.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewStore(db *persistence.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
		nowFn:  time.Now,
	}
}

type CreateParams struct {
	DeviceID        string
	Type            Type
	Description     string
	InitiatorUserID *int64
}

func (s *Store) Create(ctx context.Context, params CreateParams) (Task, error) {
	deviceID := strings.TrimSpace(params.DeviceID)
	if deviceID == "" {
		return Task{}, fmt.Errorf("device_id is required")
	}
	taskType, err := ParseType(string(params.Type))
	if err != nil {
		return Task{}, err
	}

	now := s.nowFn()
	initiator := sql.NullInt64{}
	if params.InitiatorUserID != nil {
		initiator = sql.NullInt64{Int64: *params.InitiatorUserID, Valid: true}
	}

	id, err := s.db.Queries.InsertTask(ctx, persistence.InsertTaskParams{
		DeviceID:        deviceID,
		TaskType:        string(taskType),
		Status:          string(StatusPending),
		InitiatorUserID: initiator,
		Description:     strings.TrimSpace(params.Description),
		CreatedAtUnixMs: now.UnixMilli(),
		UpdatedAtUnixMs: now.UnixMilli(),
	})
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id int64) (Task, error) {
	record, err := s.db.Queries.GetTask(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, err
	}
	return fromRecord(record), nil
}

func (s *Store) ListByDevice(ctx context.Context, deviceID string) ([]Task, error) {
	records, err := s.db.Queries.ListTasksByDevice(ctx, strings.TrimSpace(deviceID))
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, fromRecord(record))
	}
	return tasks, nil
}

// SelectForDispatch atomically claims every pending task for the device in
// creation order and returns them marked sent, together with the device's
// verifying tasks so the session can re-confirm parameter writes. A task
// claimed here is in flight and will not be handed to a concurrent session:
// the pending->sent flip is a compare-and-swap, and rows that lost the race
// (cancelled or claimed by another session in between) are skipped.
func (s *Store) SelectForDispatch(ctx context.Context, deviceID string) ([]Task, error) {
	deviceID = strings.TrimSpace(deviceID)
	now := s.nowFn()

	var dispatched []Task
	err := s.db.WithTx(ctx, func(q *persistence.Queries) error {
		pending, err := q.ListTasksByDeviceAndStatus(ctx, persistence.ListTasksByDeviceAndStatusParams{
			DeviceID: deviceID,
			Status:   string(StatusPending),
		})
		if err != nil {
			return err
		}
		for _, record := range pending {
			deadline := now.Add(Type(record.TaskType).ResponseTimeout())
			claimed, err := q.MarkTaskSent(ctx, persistence.MarkTaskSentParams{
				ID:               record.ID,
				SentAtUnixMs:     now.UnixMilli(),
				DeadlineAtUnixMs: deadline.UnixMilli(),
				UpdatedAtUnixMs:  now.UnixMilli(),
			})
			if err != nil {
				return err
			}
			if claimed != 1 {
				continue
			}
			record.Status = string(StatusSent)
			record.SentAtUnixMs = sql.NullInt64{Int64: now.UnixMilli(), Valid: true}
			record.DeadlineAtUnixMs = sql.NullInt64{Int64: deadline.UnixMilli(), Valid: true}
			record.UpdatedAtUnixMs = now.UnixMilli()
			dispatched = append(dispatched, fromRecord(record))
		}

		verifying, err := q.ListTasksByDeviceAndStatus(ctx, persistence.ListTasksByDeviceAndStatusParams{
			DeviceID: deviceID,
			Status:   string(StatusVerifying),
		})
		if err != nil {
			return err
		}
		for _, record := range verifying {
			dispatched = append(dispatched, fromRecord(record))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispatched, nil
}

// Complete records a successful device response for an in-flight task. The
// outcome only applies when the task belongs to deviceID; another device
// reporting the same id is treated like any other miss.
func (s *Store) Complete(ctx context.Context, deviceID string, id int64, result string) error {
	now := s.nowFn()
	affected, err := s.db.Queries.CompleteTask(ctx, persistence.CompleteTaskParams{
		ID:                id,
		DeviceID:          strings.TrimSpace(deviceID),
		Result:            result,
		UpdatedAtUnixMs:   now.UnixMilli(),
		CompletedAtUnixMs: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.inFlightMissErr(ctx, id)
	}
	return nil
}

// Fail records an RPC fault for an in-flight task, scoped to deviceID the
// same way Complete is.
func (s *Store) Fail(ctx context.Context, deviceID string, id int64, errorMessage string) error {
	now := s.nowFn()
	affected, err := s.db.Queries.FailTask(ctx, persistence.FailTaskParams{
		ID:                id,
		DeviceID:          strings.TrimSpace(deviceID),
		ErrorMessage:      strings.TrimSpace(errorMessage),
		UpdatedAtUnixMs:   now.UnixMilli(),
		CompletedAtUnixMs: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.inFlightMissErr(ctx, id)
	}
	return nil
}

func (s *Store) inFlightMissErr(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); errors.Is(err, ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	return ErrTaskNotInFlight
}

// Cancel cancels one task. Cancellation is only legal while the task is
// still pending; anything else reports ErrTaskNotPending to the caller as a
// no-op rather than a system error.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	now := s.nowFn()
	affected, err := s.db.Queries.CancelPendingTask(ctx, persistence.CancelPendingTaskParams{
		ID:                id,
		UpdatedAtUnixMs:   now.UnixMilli(),
		CompletedAtUnixMs: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); errors.Is(err, ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	return ErrTaskNotPending
}

// CancelMany cancels every id in the set that is still pending, atomically,
// and reports the count actually transitioned. Ids that are unknown or no
// longer pending are skipped silently.
func (s *Store) CancelMany(ctx context.Context, ids []int64) (int, error) {
	now := s.nowFn()
	cancelled := 0
	err := s.db.WithTx(ctx, func(q *persistence.Queries) error {
		for _, id := range ids {
			affected, err := q.CancelPendingTask(ctx, persistence.CancelPendingTaskParams{
				ID:                id,
				UpdatedAtUnixMs:   now.UnixMilli(),
				CompletedAtUnixMs: now.UnixMilli(),
			})
			if err != nil {
				return err
			}
			cancelled += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}

type SweepResult struct {
	MovedToVerifying int64
	FailedSent       int64
	FailedVerifying  int64
}

// SweepExpired reconciles in-flight tasks whose response deadline has
// passed: expired set_parameter_values moves to verifying (the next session
// confirms whether the write stuck), every other expired sent task fails,
// and verifying tasks past their confirmation window fail too. Each flip is
// one conditional UPDATE, so a device response landing mid-sweep wins or
// loses cleanly, never both.
func (s *Store) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.nowFn()
	nowMS := now.UnixMilli()
	var result SweepResult

	moved, err := s.db.Queries.MoveExpiredSetParameterTasksToVerifying(ctx, persistence.MoveExpiredSetParameterTasksToVerifyingParams{
		NowUnixMs:                nowMS,
		VerifyDeadlineAtUnixMs:   now.Add(verifyTimeout).UnixMilli(),
		UpdatedAtUnixMs:          nowMS,
		SetParameterTaskTypeName: string(TypeSetParameterValues),
	})
	if err != nil {
		return result, fmt.Errorf("move expired set-parameter tasks: %w", err)
	}
	result.MovedToVerifying = moved

	failedSent, err := s.db.Queries.FailExpiredTasks(ctx, persistence.FailExpiredTasksParams{
		NowUnixMs:         nowMS,
		Status:            string(StatusSent),
		ErrorMessage:      timeoutErrorMessage,
		UpdatedAtUnixMs:   nowMS,
		CompletedAtUnixMs: nowMS,
	})
	if err != nil {
		return result, fmt.Errorf("fail expired sent tasks: %w", err)
	}
	result.FailedSent = failedSent

	failedVerifying, err := s.db.Queries.FailExpiredTasks(ctx, persistence.FailExpiredTasksParams{
		NowUnixMs:         nowMS,
		Status:            string(StatusVerifying),
		ErrorMessage:      verifyTimeoutErrorMessage,
		UpdatedAtUnixMs:   nowMS,
		CompletedAtUnixMs: nowMS,
	})
	if err != nil {
		return result, fmt.Errorf("fail expired verifying tasks: %w", err)
	}
	result.FailedVerifying = failedVerifying

	return result, nil
}

func fromRecord(record persistence.Task) Task {
	task := Task{
		ID:           record.ID,
		DeviceID:     record.DeviceID,
		Type:         Type(record.TaskType),
		Status:       Status(record.Status),
		Description:  record.Description,
		Result:       record.Result,
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    time.UnixMilli(record.CreatedAtUnixMs),
		UpdatedAt:    time.UnixMilli(record.UpdatedAtUnixMs),
	}
	if record.InitiatorUserID.Valid {
		initiator := record.InitiatorUserID.Int64
		task.InitiatorUserID = &initiator
	}
	if record.SentAtUnixMs.Valid {
		sentAt := time.UnixMilli(record.SentAtUnixMs.Int64)
		task.SentAt = &sentAt
	}
	if record.DeadlineAtUnixMs.Valid {
		deadlineAt := time.UnixMilli(record.DeadlineAtUnixMs.Int64)
		task.DeadlineAt = &deadlineAt
	}
	if record.CompletedAtUnixMs.Valid {
		completedAt := time.UnixMilli(record.CompletedAtUnixMs.Int64)
		task.CompletedAt = &completedAt
	}
	return task
}
