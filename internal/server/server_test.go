package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/cronplan"
	"github.com/connwatch/connwatch/internal/model"
	"github.com/connwatch/connwatch/internal/secret"
	"github.com/connwatch/connwatch/internal/storage"
)

type memoryStore struct {
	mu          sync.Mutex
	schedules   map[string]*model.Schedule
	connections map[string]*model.Connection
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		schedules:   make(map[string]*model.Schedule),
		connections: make(map[string]*model.Connection),
	}
}

func (m *memoryStore) UpsertSchedule(_ context.Context, schedule *model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same contract as the SQLite store: a replaced row keeps its identity.
	for id, existing := range m.schedules {
		if existing.ApplicationID == schedule.ApplicationID {
			schedule.ID = existing.ID
			schedule.CreatedAt = existing.CreatedAt
			delete(m.schedules, id)
		}
	}
	m.schedules[schedule.ID] = schedule
	return nil
}

func (m *memoryStore) GetSchedule(_ context.Context, id string) (*model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	schedule, ok := m.schedules[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return schedule, nil
}

func (m *memoryStore) ListSchedules(_ context.Context) ([]*model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryStore) ListDueSchedules(_ context.Context, _ time.Time) ([]*model.Schedule, error) {
	return nil, nil
}

func (m *memoryStore) SaveScheduleRunResult(_ context.Context, _ string, _ storage.RunResult) error {
	return nil
}

func (m *memoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memoryStore) CreateConnection(_ context.Context, conn *model.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID] = conn
	return nil
}

func (m *memoryStore) GetConnection(_ context.Context, id string) (*model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return conn, nil
}

func (m *memoryStore) GetConnectionsForApplication(_ context.Context, applicationID string) ([]*model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Connection
	for _, c := range m.connections {
		if c.ApplicationID == applicationID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) SaveConnectionTestResult(_ context.Context, connectionID string, status model.RunStatus, message string, testedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[connectionID]
	if !ok {
		return storage.ErrNotFound
	}
	conn.LastStatus = status
	conn.LastMessage = message
	conn.LastTestedAt = &testedAt
	return nil
}

type stubTester struct {
	outcome model.RunOutcome
	tested  []*model.Connection
}

func (s *stubTester) Test(_ context.Context, conn *model.Connection) model.RunOutcome {
	s.tested = append(s.tested, conn)
	outcome := s.outcome
	outcome.ConnectionID = conn.ID
	return outcome
}

func newTestServer(t *testing.T, tester ConnectionTester) (*Server, *memoryStore) {
	t.Helper()

	cipher, err := secret.NewCipher("server-test-secret")
	require.NoError(t, err)

	store := newMemoryStore()
	srv := NewServer(store, cronplan.NewPlanner(zap.NewNop()), cipher, tester, zap.NewNop())
	return srv, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUpsertSchedule(t *testing.T) {
	srv, store := newTestServer(t, &stubTester{})
	handler := srv.Router()

	t.Run("valid expression", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/schedules", map[string]interface{}{
			"application_id": "app-1",
			"expression":     "0 9 * * *",
			"enabled":        true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var schedule model.Schedule
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&schedule))
		assert.NotEmpty(t, schedule.ID)
		assert.Equal(t, "app-1", schedule.ApplicationID)
		require.NotNil(t, schedule.NextRunAt)
		assert.True(t, schedule.NextRunAt.After(time.Now()))

		stored, err := store.GetSchedule(context.Background(), schedule.ID)
		require.NoError(t, err)
		assert.Equal(t, "0 9 * * *", stored.Expression)
	})

	t.Run("invalid expression is rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/schedules", map[string]interface{}{
			"application_id": "app-1",
			"expression":     "not a cron",
			"enabled":        true,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing application id is rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/schedules", map[string]interface{}{
			"expression": "* * * * *",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("replaces existing schedule for the application", func(t *testing.T) {
		first := doJSON(t, handler, http.MethodPost, "/api/schedules", map[string]interface{}{
			"application_id": "app-2",
			"expression":     "0 6 * * *",
			"enabled":        true,
		})
		require.Equal(t, http.StatusOK, first.Code)
		var created model.Schedule
		require.NoError(t, json.NewDecoder(first.Body).Decode(&created))

		second := doJSON(t, handler, http.MethodPost, "/api/schedules", map[string]interface{}{
			"application_id": "app-2",
			"expression":     "0 18 * * *",
			"enabled":        true,
		})
		require.Equal(t, http.StatusOK, second.Code)
		var replaced model.Schedule
		require.NoError(t, json.NewDecoder(second.Body).Decode(&replaced))

		// The edit keeps the original identity, so the returned ID stays
		// usable for later requests.
		assert.Equal(t, created.ID, replaced.ID)

		schedules, err := store.ListSchedules(context.Background())
		require.NoError(t, err)

		var forApp []*model.Schedule
		for _, s := range schedules {
			if s.ApplicationID == "app-2" {
				forApp = append(forApp, s)
			}
		}
		require.Len(t, forApp, 1)
		assert.Equal(t, "0 18 * * *", forApp[0].Expression)

		del := doJSON(t, handler, http.MethodDelete, "/api/schedules/"+replaced.ID, nil)
		assert.Equal(t, http.StatusNoContent, del.Code)
	})
}

func TestDeleteSchedule(t *testing.T) {
	srv, store := newTestServer(t, &stubTester{})
	handler := srv.Router()

	require.NoError(t, store.UpsertSchedule(context.Background(), &model.Schedule{
		ID:            "sched-1",
		ApplicationID: "app-1",
		Expression:    "* * * * *",
	}))

	rec := doJSON(t, handler, http.MethodDelete, "/api/schedules/sched-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/api/schedules/sched-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateCron(t *testing.T) {
	srv, _ := newTestServer(t, &stubTester{})
	handler := srv.Router()

	rec := doJSON(t, handler, http.MethodPost, "/api/cron/validate", map[string]string{
		"expression": "0 9 * * 1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var validation cronplan.Validation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&validation))
	assert.True(t, validation.Valid)
	assert.Contains(t, validation.Description, "Weekly")
}

func TestCreateConnection(t *testing.T) {
	srv, store := newTestServer(t, &stubTester{})
	handler := srv.Router()

	rec := doJSON(t, handler, http.MethodPost, "/api/connections", map[string]interface{}{
		"application_id": "app-1",
		"name":           "orders-db",
		"kind":           "postgres",
		"server":         "db.internal",
		"port":           5432,
		"database":       "orders",
		"username":       "svc",
		"password":       "hunter2",
		"active":         true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The response must never expose credential material.
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var conn model.Connection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conn))
	require.NotEmpty(t, conn.ID)

	stored, err := store.GetConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", stored.Password, "password must be stored encrypted")
	assert.NotEmpty(t, stored.Password)
}

func TestTestConnection(t *testing.T) {
	tester := &stubTester{outcome: model.RunOutcome{
		Success: true,
		Message: "Connection successful",
	}}
	srv, store := newTestServer(t, tester)
	handler := srv.Router()

	require.NoError(t, store.CreateConnection(context.Background(), &model.Connection{
		ID:   "conn-1",
		Name: "orders-db",
		Kind: model.KindPostgres,
	}))

	rec := doJSON(t, handler, http.MethodPost, "/api/connections/conn-1/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome model.RunOutcome
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&outcome))
	assert.True(t, outcome.Success)
	assert.Equal(t, "conn-1", outcome.ConnectionID)
	require.Len(t, tester.tested, 1)

	stored, err := store.GetConnection(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, stored.LastStatus)
	require.NotNil(t, stored.LastTestedAt)

	t.Run("unknown connection", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/connections/missing/test", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
