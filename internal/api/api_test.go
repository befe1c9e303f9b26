package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	redisclient "github.com/hackgods/homecare-scheduling/internal/redis"
	"github.com/hackgods/homecare-scheduling/internal/scheduling"
	"github.com/hackgods/homecare-scheduling/internal/scheduling/schedulingtest"
)

const testSecret = "test-secret-key-for-unit-tests-only"

type testServer struct {
	t      *testing.T
	store  *schedulingtest.Store
	router http.Handler

	doctor    scheduling.User
	patient   scheduling.User
	other     scheduling.User
	attendant scheduling.User
	admin     scheduling.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := schedulingtest.NewStore()
	logger := zaptest.NewLogger(t)
	svc := scheduling.NewService(store, redisclient.NewLocalLocker(), &schedulingtest.AuditLog{}, logger)

	return &testServer{
		t:     t,
		store: store,
		router: NewRouter(RouterConfig{
			Service: svc,
			Auth:    NewAuthenticator(testSecret),
			Health:  NewHealthHandler(okPinger{}, okRedis{}, "test", "v0"),
			Logger:  logger,
		}),
		doctor:    store.AddUser("Ana Souza", scheduling.RoleDoctor),
		patient:   store.AddUser("Carla Dias", scheduling.RolePatient),
		other:     store.AddUser("Diego Alves", scheduling.RolePatient),
		attendant: store.AddUser("Elisa Rocha", scheduling.RoleAttendant),
		admin:     store.AddUser("Fabio Nunes", scheduling.RoleAdmin),
	}
}

func (s *testServer) token(u scheduling.User) string {
	s.t.Helper()
	tok, err := SignToken(testSecret, scheduling.Requester{ID: u.ID, Role: u.Role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path string, as *scheduling.User, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*as))
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var nine = time.Date(2030, time.January, 15, 9, 0, 0, 0, time.UTC)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type okRedis struct{}

func (okRedis) Ping(context.Context) *redis.StatusCmd { return redis.NewStatusResult("PONG", nil) }

type downRedis struct{}

func (downRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("", errors.New("dial tcp: i/o timeout"))
}

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/appointments", nil, CreateAppointmentRequest{SlotID: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc"},
		{"empty token", "Bearer "},
		{"garbage", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + mustSign(t, "another-secret", scheduling.Requester{ID: 1, Role: scheduling.RolePatient})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/appointments/my", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func mustSign(t *testing.T, secret string, r scheduling.Requester) string {
	t.Helper()
	tok, err := SignToken(secret, r, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestAuthenticator_Verify(t *testing.T) {
	a := NewAuthenticator(testSecret)

	got, err := a.Verify(mustSign(t, testSecret, scheduling.Requester{ID: 7, Role: scheduling.RoleAttendant}))
	require.NoError(t, err)
	assert.Equal(t, scheduling.Requester{ID: 7, Role: scheduling.RoleAttendant}, got)

	_, err = a.Verify(mustSign(t, testSecret, scheduling.Requester{ID: 7, Role: scheduling.Role(99)}))
	require.Error(t, err)

	expired, err := SignToken(testSecret, scheduling.Requester{ID: 7, Role: scheduling.RoleDoctor}, -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	require.Error(t, err)
}

func TestCreateSlot_HTTP(t *testing.T) {
	s := newTestServer(t)

	start, end := nine, nine.Add(time.Hour)
	rec := s.do(http.MethodPost, "/api/availability", &s.doctor, CreateSlotRequest{StartsAt: &start, EndsAt: &end})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	slot := decode[SlotResponse](t, rec)
	assert.Equal(t, s.doctor.ID, slot.DoctorID)
	assert.False(t, slot.IsBooked)

	overlapStart := nine.Add(30 * time.Minute)
	overlapEnd := overlapStart.Add(time.Hour)
	rec = s.do(http.MethodPost, "/api/availability", &s.doctor, CreateSlotRequest{StartsAt: &overlapStart, EndsAt: &overlapEnd})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_overlap", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/availability", &s.doctor, CreateSlotRequest{StartsAt: &end, EndsAt: &start})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/availability", &s.patient, CreateSlotRequest{StartsAt: &start, EndsAt: &end})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateDayOpenings_HTTP(t *testing.T) {
	s := newTestServer(t)
	s.store.AddSlot(s.doctor.ID, nine, nine.Add(30*time.Minute))

	rec := s.do(http.MethodPost, "/api/availability/day", &s.attendant, DayOpeningsRequest{
		DoctorID:    &s.doctor.ID,
		Date:        "2030-01-15",
		StartTime:   "09:00",
		EndTime:     "11:00",
		DurationMin: 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[DayOpeningsResponse](t, rec)
	assert.Len(t, res.Created, 3)
	require.Len(t, res.Skipped, 1)
	assert.True(t, res.Skipped[0].StartsAt.Equal(nine))

	rec = s.do(http.MethodPost, "/api/availability/day", &s.attendant, DayOpeningsRequest{
		Date:        "2030-01-15",
		StartTime:   "09:00",
		EndTime:     "11:00",
		DurationMin: 30,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Error)
}

func TestListOpenSlots_PublicWithFilters(t *testing.T) {
	s := newTestServer(t)
	s.store.AddSlot(s.doctor.ID, nine, nine.Add(30*time.Minute))
	s.store.AddSlot(s.doctor.ID, nine.Add(2*time.Hour), nine.Add(150*time.Minute))

	rec := s.do(http.MethodGet, "/api/availability", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 2)

	path := fmt.Sprintf("/api/availability?doctorId=%d&from=%s", s.doctor.ID, nine.Add(time.Hour).Format(time.RFC3339))
	rec = s.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/availability?from=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingAndStatusFlow_HTTP(t *testing.T) {
	s := newTestServer(t)
	slot := s.store.AddSlot(s.doctor.ID, nine, nine.Add(30*time.Minute))

	notes := "first visit"
	rec := s.do(http.MethodPost, "/api/appointments", &s.patient, CreateAppointmentRequest{SlotID: slot.ID, Notes: &notes})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "PENDING", appt.Status)
	assert.Equal(t, s.patient.ID, appt.PatientID)
	assert.Equal(t, slot.ID, appt.SlotID)

	rec = s.do(http.MethodPost, "/api/appointments", &s.attendant, CreateAppointmentRequest{SlotID: slot.ID, PatientID: &s.other.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/appointments", &s.patient, CreateAppointmentRequest{SlotID: 9999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "slot_not_found", decode[ErrorResponse](t, rec).Error)

	statusPath := fmt.Sprintf("/api/appointments/%d/status", appt.ID)

	rec = s.do(http.MethodPatch, statusPath, &s.patient, UpdateStatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPatch, statusPath, &s.attendant, UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CONFIRMED", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(http.MethodPatch, statusPath, &s.doctor, UpdateStatusRequest{Status: "CANCELED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(http.MethodPatch, statusPath, &s.attendant, UpdateStatusRequest{Status: "ARCHIVED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAppointment_Visibility_HTTP(t *testing.T) {
	s := newTestServer(t)
	slot := s.store.AddSlot(s.doctor.ID, nine, nine.Add(30*time.Minute))

	rec := s.do(http.MethodPost, "/api/appointments", &s.patient, CreateAppointmentRequest{SlotID: slot.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)

	path := fmt.Sprintf("/api/appointments/%d", appt.ID)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, &s.patient, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, &s.doctor, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, &s.other, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/appointments/12345", &s.admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/appointments/abc", &s.admin, nil).Code)
}

func TestListAppointments_HTTP(t *testing.T) {
	s := newTestServer(t)
	slot := s.store.AddSlot(s.doctor.ID, nine, nine.Add(30*time.Minute))

	rec := s.do(http.MethodPost, "/api/appointments", &s.patient, CreateAppointmentRequest{SlotID: slot.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/api/appointments/my", &s.patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/appointments/my", &s.other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AppointmentResponse](t, rec))

	rec = s.do(http.MethodGet, "/api/appointments/my?status=CONFIRMED", &s.attendant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AppointmentResponse](t, rec))

	agenda := fmt.Sprintf("/api/appointments/doctor/%d", s.doctor.ID)
	rec = s.do(http.MethodGet, agenda, &s.attendant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, agenda, &s.patient, nil).Code)
}

func TestDeleteSlots_HTTP(t *testing.T) {
	s := newTestServer(t)
	first := s.store.AddSlot(s.doctor.ID, nine, nine.Add(30*time.Minute))
	s.store.AddSlot(s.doctor.ID, nine.Add(time.Hour), nine.Add(90*time.Minute))
	s.store.AddSlot(s.doctor.ID, nine.Add(2*time.Hour), nine.Add(150*time.Minute))

	path := fmt.Sprintf("/api/availability/%d", first.ID)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, path, &s.attendant, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, &s.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, path, &s.admin, nil).Code)

	rangePath := fmt.Sprintf("/api/availability?doctorId=%d&from=%s&to=%s",
		s.doctor.ID, nine.Format(time.RFC3339), nine.Add(3*time.Hour).Format(time.RFC3339))
	rec := s.do(http.MethodDelete, rangePath, &s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[DeleteRangeResponse](t, rec).Deleted)
	assert.Empty(t, s.store.Slots())
}

func TestListDoctors_HTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/doctors?q=ana", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doctors := decode[[]UserResponse](t, rec)
	require.Len(t, doctors, 1)
	assert.Equal(t, s.doctor.ID, doctors[0].ID)
}

func TestPatientDirectory_HTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/patients?q=carla", &s.attendant, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patients := decode[[]UserResponse](t, rec)
	require.Len(t, patients, 1)
	assert.Equal(t, s.patient.ID, patients[0].ID)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/patients/%d", s.other.ID), &s.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Diego Alves", decode[UserResponse](t, rec).Name)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/patients/%d", s.doctor.ID), &s.attendant, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/patients/abc", &s.attendant, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/patients", &s.patient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/api/patients", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pg         pinger
		redis      redisPinger
		wantCode   int
		wantStatus string
	}{
		{"all up", okPinger{}, okRedis{}, http.StatusOK, "ok"},
		{"redis down", okPinger{}, downRedis{}, http.StatusOK, "degraded"},
		{"postgres down", downPinger{}, okRedis{}, http.StatusServiceUnavailable, "error"},
		{"both down", downPinger{}, downRedis{}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{
				Auth:   NewAuthenticator(testSecret),
				Health: NewHealthHandler(tt.pg, tt.redis, "test", "v0"),
			})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, decode[ReadinessResponse](t, rec).Status)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
