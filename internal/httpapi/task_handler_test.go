package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
)

func TestTaskAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		DeviceID: "serial-1",
		TaskType: "reboot",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/console/login", loginRequest{
		Username: testDashboardUsername,
		Password: "wrong-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/console/logout", nil, cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from logout, got %d", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/api/v1/devices/serial-1/tasks", nil, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		TaskType: "reboot",
	}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing device_id, got %d", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		DeviceID: "serial-1",
		TaskType: "format_disk",
	}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown task type, got %d", rec.Code)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	created := createTask(t, env, cookie, "serial-1", "get_params")
	if created.Status != "pending" {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	rec := doJSON(t, env.router, http.MethodGet, "/api/v1/tasks/"+strconv.FormatInt(created.TaskID, 10), nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var fetched taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if fetched.TaskID != created.TaskID || fetched.DeviceID != "serial-1" {
		t.Fatalf("unexpected task %+v", fetched)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/api/v1/tasks/9999", nil, cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rec.Code)
	}
}

func TestListDeviceTasks(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	createTask(t, env, cookie, "serial-1", "get_params")
	createTask(t, env, cookie, "serial-1", "reboot")
	createTask(t, env, cookie, "serial-2", "upload")

	rec := doJSON(t, env.router, http.MethodGet, "/api/v1/devices/serial-1/tasks", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list listTasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 2 || len(list.Items) != 2 {
		t.Fatalf("expected 2 tasks for serial-1, got total=%d len=%d", list.Total, len(list.Items))
	}
}

func TestCancelTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	task := createTask(t, env, cookie, "serial-1", "get_params")
	path := "/api/v1/tasks/" + strconv.FormatInt(task.TaskID, 10)

	rec := doJSON(t, env.router, http.MethodDelete, path, nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling pending task, got %d", rec.Code)
	}
	var cancelled taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cancelled); err != nil {
		t.Fatalf("decode cancelled task: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	rec = doJSON(t, env.router, http.MethodDelete, path, nil, cookie)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodDelete, "/api/v1/tasks/9999", nil, cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rec.Code)
	}
}

func TestBulkCancelReportsActualCount(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	first := createTask(t, env, cookie, "device-a", "get_params")
	second := createTask(t, env, cookie, "device-b", "get_params")
	third := createTask(t, env, cookie, "device-a", "reboot")

	// Complete the middle task through a device session so it no longer
	// qualifies for cancellation.
	session := deviceSession(t, env.router, sessionRequest{DeviceID: "device-b"})
	if len(session.Tasks) != 1 || session.Tasks[0].TaskID != second.TaskID {
		t.Fatalf("expected device-b session to carry task %d, got %+v", second.TaskID, session.Tasks)
	}
	deviceSession(t, env.router, sessionRequest{
		DeviceID: "device-b",
		Responses: []taskOutcome{
			{TaskID: second.TaskID, Success: true, Result: "{}"},
		},
	})

	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks/cancel", bulkCancelRequest{
		TaskIDs: []int64{first.TaskID, second.TaskID, third.TaskID},
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Cancelled int `json:"cancelled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode bulk cancel response: %v", err)
	}
	if payload.Cancelled != 2 {
		t.Fatalf("expected 2 tasks cancelled, got %d", payload.Cancelled)
	}

	// The completed task is untouched.
	rec = doJSON(t, env.router, http.MethodGet, "/api/v1/tasks/"+strconv.FormatInt(second.TaskID, 10), nil, cookie)
	var unchanged taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &unchanged); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if unchanged.Status != "completed" {
		t.Fatalf("expected completed task unchanged, got %s", unchanged.Status)
	}
}

func TestBulkCancelValidation(t *testing.T) {
	env := newTestEnv(t)
	cookie := loginSessionCookie(t, env.router)

	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/tasks/cancel", bulkCancelRequest{}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty id set, got %d", rec.Code)
	}
}
