// Hand-written query layer in the sqlc shape: one method per statement,
// parameter structs, and WithTx support so callers can compose statements
// inside a transaction.
package persistence

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Task struct {
	ID                int64
	DeviceID          string
	TaskType          string
	Status            string
	InitiatorUserID   sql.NullInt64
	Description       string
	Result            string
	ErrorMessage      string
	CreatedAtUnixMs   int64
	UpdatedAtUnixMs   int64
	SentAtUnixMs      sql.NullInt64
	DeadlineAtUnixMs  sql.NullInt64
	CompletedAtUnixMs sql.NullInt64
}

const taskColumns = `id, device_id, task_type, status, initiator_user_id, description, result,
	error_message, created_at_unix_ms, updated_at_unix_ms, sent_at_unix_ms,
	deadline_at_unix_ms, completed_at_unix_ms`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.DeviceID,
		&t.TaskType,
		&t.Status,
		&t.InitiatorUserID,
		&t.Description,
		&t.Result,
		&t.ErrorMessage,
		&t.CreatedAtUnixMs,
		&t.UpdatedAtUnixMs,
		&t.SentAtUnixMs,
		&t.DeadlineAtUnixMs,
		&t.CompletedAtUnixMs,
	)
	return t, err
}

type InsertTaskParams struct {
	DeviceID        string
	TaskType        string
	Status          string
	InitiatorUserID sql.NullInt64
	Description     string
	CreatedAtUnixMs int64
	UpdatedAtUnixMs int64
}

func (q *Queries) InsertTask(ctx context.Context, arg InsertTaskParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (device_id, task_type, status, initiator_user_id, description,
			created_at_unix_ms, updated_at_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.DeviceID, arg.TaskType, arg.Status, arg.InitiatorUserID, arg.Description,
		arg.CreatedAtUnixMs, arg.UpdatedAtUnixMs)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (q *Queries) GetTask(ctx context.Context, id int64) (Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (q *Queries) ListTasksByDevice(ctx context.Context, deviceID string) ([]Task, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE device_id = ? ORDER BY id`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

type ListTasksByDeviceAndStatusParams struct {
	DeviceID string
	Status   string
}

func (q *Queries) ListTasksByDeviceAndStatus(ctx context.Context, arg ListTasksByDeviceAndStatusParams) ([]Task, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE device_id = ? AND status = ? ORDER BY id`,
		arg.DeviceID, arg.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	tasks := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type MarkTaskSentParams struct {
	ID               int64
	SentAtUnixMs     int64
	DeadlineAtUnixMs int64
	UpdatedAtUnixMs  int64
}

// MarkTaskSent flips one pending task to sent. The status guard in the
// WHERE clause is the compare-and-swap that keeps a task in flight at most
// once; callers must check the returned row count.
func (q *Queries) MarkTaskSent(ctx context.Context, arg MarkTaskSentParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'sent', sent_at_unix_ms = ?, deadline_at_unix_ms = ?, updated_at_unix_ms = ?
		WHERE id = ? AND status = 'pending'`,
		arg.SentAtUnixMs, arg.DeadlineAtUnixMs, arg.UpdatedAtUnixMs, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type CompleteTaskParams struct {
	ID                int64
	DeviceID          string
	Result            string
	UpdatedAtUnixMs   int64
	CompletedAtUnixMs int64
}

// CompleteTask records a device response for an in-flight task. The
// device_id guard keeps one device's session from resolving another
// device's tasks.
func (q *Queries) CompleteTask(ctx context.Context, arg CompleteTaskParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed', result = ?, updated_at_unix_ms = ?, completed_at_unix_ms = ?
		WHERE id = ? AND device_id = ? AND status IN ('sent', 'verifying')`,
		arg.Result, arg.UpdatedAtUnixMs, arg.CompletedAtUnixMs, arg.ID, arg.DeviceID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type FailTaskParams struct {
	ID                int64
	DeviceID          string
	ErrorMessage      string
	UpdatedAtUnixMs   int64
	CompletedAtUnixMs int64
}

func (q *Queries) FailTask(ctx context.Context, arg FailTaskParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', error_message = ?, updated_at_unix_ms = ?, completed_at_unix_ms = ?
		WHERE id = ? AND device_id = ? AND status IN ('sent', 'verifying')`,
		arg.ErrorMessage, arg.UpdatedAtUnixMs, arg.CompletedAtUnixMs, arg.ID, arg.DeviceID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type CancelPendingTaskParams struct {
	ID                int64
	UpdatedAtUnixMs   int64
	CompletedAtUnixMs int64
}

// CancelPendingTask cancels a task only while it is still pending. A task
// that raced into sent (or any later status) is left untouched and reported
// through the zero row count.
func (q *Queries) CancelPendingTask(ctx context.Context, arg CancelPendingTaskParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'cancelled', updated_at_unix_ms = ?, completed_at_unix_ms = ?
		WHERE id = ? AND status = 'pending'`,
		arg.UpdatedAtUnixMs, arg.CompletedAtUnixMs, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type MoveExpiredSetParameterTasksToVerifyingParams struct {
	NowUnixMs                int64
	VerifyDeadlineAtUnixMs   int64
	UpdatedAtUnixMs          int64
	SetParameterTaskTypeName string
}

// MoveExpiredSetParameterTasksToVerifying handles the parameter-set special
// case: instead of failing on response timeout, the task moves to verifying
// so the next device session can confirm whether the value actually stuck.
func (q *Queries) MoveExpiredSetParameterTasksToVerifying(ctx context.Context, arg MoveExpiredSetParameterTasksToVerifyingParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'verifying', deadline_at_unix_ms = ?, updated_at_unix_ms = ?
		WHERE status = 'sent' AND task_type = ? AND deadline_at_unix_ms IS NOT NULL AND deadline_at_unix_ms <= ?`,
		arg.VerifyDeadlineAtUnixMs, arg.UpdatedAtUnixMs, arg.SetParameterTaskTypeName, arg.NowUnixMs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type FailExpiredTasksParams struct {
	NowUnixMs         int64
	Status            string
	ErrorMessage      string
	UpdatedAtUnixMs   int64
	CompletedAtUnixMs int64
}

func (q *Queries) FailExpiredTasks(ctx context.Context, arg FailExpiredTasksParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', error_message = ?, updated_at_unix_ms = ?, completed_at_unix_ms = ?
		WHERE status = ? AND deadline_at_unix_ms IS NOT NULL AND deadline_at_unix_ms <= ?`,
		arg.ErrorMessage, arg.UpdatedAtUnixMs, arg.CompletedAtUnixMs, arg.Status, arg.NowUnixMs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type FailInFlightTasksOnStartupParams struct {
	ErrorMessage      string
	UpdatedAtUnixMs   int64
	CompletedAtUnixMs int64
}

func (q *Queries) FailInFlightTasksOnStartup(ctx context.Context, arg FailInFlightTasksOnStartupParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', error_message = ?, updated_at_unix_ms = ?, completed_at_unix_ms = ?
		WHERE status IN ('sent', 'verifying')`,
		arg.ErrorMessage, arg.UpdatedAtUnixMs, arg.CompletedAtUnixMs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type DashboardCredential struct {
	SingletonID     int64
	Username        string
	PasswordHash    string
	HashAlgo        string
	CreatedAtUnixMs int64
	UpdatedAtUnixMs int64
}

func (q *Queries) GetDashboardCredential(ctx context.Context) (DashboardCredential, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT singleton_id, username, password_hash, hash_algo, created_at_unix_ms, updated_at_unix_ms
		FROM dashboard_credentials WHERE singleton_id = 1`)
	var credential DashboardCredential
	err := row.Scan(
		&credential.SingletonID,
		&credential.Username,
		&credential.PasswordHash,
		&credential.HashAlgo,
		&credential.CreatedAtUnixMs,
		&credential.UpdatedAtUnixMs,
	)
	return credential, err
}

type InsertDashboardCredentialParams struct {
	SingletonID     int64
	Username        string
	PasswordHash    string
	HashAlgo        string
	CreatedAtUnixMs int64
	UpdatedAtUnixMs int64
}

func (q *Queries) InsertDashboardCredential(ctx context.Context, arg InsertDashboardCredentialParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dashboard_credentials (singleton_id, username, password_hash, hash_algo,
			created_at_unix_ms, updated_at_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		arg.SingletonID, arg.Username, arg.PasswordHash, arg.HashAlgo,
		arg.CreatedAtUnixMs, arg.UpdatedAtUnixMs)
	return err
}
