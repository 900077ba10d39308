package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breathguard/internal/types"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// --- fakes ---

type fakePipeline struct {
	submitted []*types.RawSample
	submitErr error
	snapshot  *types.StateSnapshot
	latestErr error
}

func (f *fakePipeline) Submit(_ context.Context, sample *types.RawSample) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, sample)
	return nil
}

func (f *fakePipeline) Latest(_ context.Context, patientID string) (*types.StateSnapshot, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.snapshot, nil
}

type fakeScores struct {
	scores []types.RiskScore
	err    error
}

func (f *fakeScores) RecentScores(_ context.Context, _ string, _ int) ([]types.RiskScore, error) {
	return f.scores, f.err
}

type fakeEvents struct {
	events []types.AlertEvent
	err    error
}

func (f *fakeEvents) ListEvents(_ context.Context, _ string, _ int) ([]types.AlertEvent, error) {
	return f.events, f.err
}

type fakeProfiles struct {
	profile  *types.PatientProfile
	getErr   error
	upserted *types.PatientProfile
}

func (f *fakeProfiles) GetProfile(_ context.Context, _ string) (*types.PatientProfile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.profile, nil
}

func (f *fakeProfiles) UpsertProfile(_ context.Context, p *types.PatientProfile) error {
	f.upserted = p
	return nil
}

type fakeOutcomes struct {
	outcomes []types.DispatchOutcome
	err      error
}

func (f *fakeOutcomes) ListFailedOutcomes(_ context.Context, _ string, _ int) ([]types.DispatchOutcome, error) {
	return f.outcomes, f.err
}

type fakeProbe struct {
	name string
	err  error
}

func (p fakeProbe) Name() string                  { return p.name }
func (p fakeProbe) Check(_ context.Context) error { return p.err }

type serverFixture struct {
	server   *Server
	pipeline *fakePipeline
	scores   *fakeScores
	events   *fakeEvents
	profiles *fakeProfiles
	outcomes *fakeOutcomes
}

func newServerFixture(probes ...HealthProbe) *serverFixture {
	f := &serverFixture{
		pipeline: &fakePipeline{},
		scores:   &fakeScores{},
		events:   &fakeEvents{},
		profiles: &fakeProfiles{},
		outcomes: &fakeOutcomes{},
	}
	f.server = NewServer(ServerConfig{
		Pipeline: f.pipeline,
		Scores:   f.scores,
		Events:   f.events,
		Profiles: f.profiles,
		Outcomes: f.outcomes,
		Probes:   probes,
		Logger:   types.NopLogger{},
		Clock:    fixedClock{testNow},
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

// --- samples ---

func TestHandleSubmitSample_Accepted(t *testing.T) {
	f := newServerFixture()

	rec := f.do(t, http.MethodPost, "/api/v1/samples",
		`{"patient_id":"p-001","temperature":26.5,"humidity":48.0,"mq2":210,"dust":150}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.pipeline.submitted, 1)
	s := f.pipeline.submitted[0]
	assert.Equal(t, "p-001", s.PatientID)
	assert.Equal(t, testNow, s.Timestamp, "receive time fills a missing ts")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleSubmitSample_Malformed(t *testing.T) {
	f := newServerFixture()

	rec := f.do(t, http.MethodPost, "/api/v1/samples", `{"temperature":26.5}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationMalformedSample), detail.Code)
	assert.NotEmpty(t, detail.RequestID)
	assert.Empty(t, f.pipeline.submitted)
}

func TestHandleSubmitSample_MailboxFull(t *testing.T) {
	f := newServerFixture()
	f.pipeline.submitErr = types.NewAppError(types.ErrCodeRateLimitedMailboxFull,
		"patient mailbox is full", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/samples",
		`{"patient_id":"p-001","temperature":26.5}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// --- latest ---

func TestHandleLatest_Success(t *testing.T) {
	f := newServerFixture()
	f.pipeline.snapshot = &types.StateSnapshot{
		Score: types.RiskScore{PatientID: "p-001", Probability: 0.72, Label: types.RiskHigh},
		State: types.AlertState{PatientID: "p-001", Level: types.LevelWarning},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/latest", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data types.StateSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.72, resp.Data.Score.Probability)
	assert.Equal(t, types.LevelWarning, resp.Data.State.Level)
}

func TestHandleLatest_NotFound(t *testing.T) {
	f := newServerFixture()
	f.pipeline.latestErr = types.NewAppError(types.ErrCodeNotFoundScore,
		"no scores recorded for patient", nil)

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-x/latest", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- readings / events ---

func TestHandleReadings_Success(t *testing.T) {
	f := newServerFixture()
	f.scores.scores = []types.RiskScore{
		{PatientID: "p-001", Probability: 0.6, Label: types.RiskMedium},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/readings?limit=10", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"readings"`)
}

func TestHandleReadings_InvalidLimit(t *testing.T) {
	f := newServerFixture()

	for _, limit := range []string{"abc", "-5", "0"} {
		rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/readings?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
		detail := decodeError(t, rec)
		assert.Equal(t, string(types.ErrCodeValidationInvalidLimit), detail.Code)
	}
}

func TestHandleEvents_EmptyHistory(t *testing.T) {
	f := newServerFixture()

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/events", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`, "empty history is an empty array, not null")
}

// --- profile ---

func TestHandleGetProfile_Success(t *testing.T) {
	f := newServerFixture()
	f.profiles.profile = types.DefaultProfile("p-001")

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/profile", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"patient_id":"p-001"`)
}

func TestHandleGetProfile_NotFound(t *testing.T) {
	f := newServerFixture()
	f.profiles.getErr = types.NewAppError(types.ErrCodeNotFoundPatient, "patient not found", nil)

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-x/profile", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func validProfileBody() map[string]any {
	return map[string]any{
		"name":            "Hari",
		"age":             21,
		"gender":          "male",
		"smoker":          "passive_smoker",
		"allergy_present": true,
		"allergy_type":    "dust",
		"occupation":      "outdoor_traffic",
		"alert_phone":     "+15550100",
	}
}

func TestHandlePutProfile_Success(t *testing.T) {
	f := newServerFixture()

	rec := f.do(t, http.MethodPut, "/api/v1/patients/p-001/profile", validProfileBody())

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.profiles.upserted)
	assert.Equal(t, "p-001", f.profiles.upserted.PatientID)
	assert.Equal(t, types.SmokerPassive, f.profiles.upserted.Smoker)
	assert.Equal(t, types.AllergyDust, f.profiles.upserted.AllergyType)
}

func TestHandlePutProfile_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }},
		{"age out of range", func(b map[string]any) { b["age"] = 200 }},
		{"bad smoker class", func(b map[string]any) { b["smoker"] = "chain" }},
		{"bad occupation", func(b map[string]any) { b["occupation"] = "astronaut" }},
		{"bad phone", func(b map[string]any) { b["alert_phone"] = "not-a-phone" }},
		{"allergy mismatch", func(b map[string]any) { b["allergy_type"] = "none" }},
		{"unknown field", func(b map[string]any) { b["favorite_color"] = "blue" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture()
			body := validProfileBody()
			tt.mutate(body)

			rec := f.do(t, http.MethodPut, "/api/v1/patients/p-001/profile", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, f.profiles.upserted)
		})
	}
}

// --- failed deliveries ---

func TestHandleFailedDeliveries_Success(t *testing.T) {
	f := newServerFixture()
	f.outcomes.outcomes = []types.DispatchOutcome{
		{ID: "out_evt_9_sms", EventID: "evt_9", Channel: types.ChannelSMS,
			Status: types.OutcomeFailed, AttemptCount: 3, LastError: "gateway returned 503"},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/deliveries/failed", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "out_evt_9_sms")
}

// --- health ---

func TestHandleHealth_AllHealthy(t *testing.T) {
	f := newServerFixture(fakeProbe{name: "database"}, fakeProbe{name: "redis"})

	rec := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestHandleHealth_UnhealthyComponent(t *testing.T) {
	f := newServerFixture(
		fakeProbe{name: "database"},
		fakeProbe{name: "redis", err: errors.New("connection refused")},
	)

	rec := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":{"status":"unhealthy"`)
}

// --- error mapping ---

func TestError_GenericErrorIsOpaque(t *testing.T) {
	f := newServerFixture()
	f.scores.err = errors.New("pq: deadlock detected on relation risk_scores")

	rec := f.do(t, http.MethodGet, "/api/v1/patients/p-001/readings", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadlock", "internal details never leak")
	detail := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), detail.Code)
}

func TestRequestID_IncomingHeaderPreserved(t *testing.T) {
	f := newServerFixture()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
}
