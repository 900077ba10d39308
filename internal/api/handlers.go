package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"breathguard/internal/ingest"
	"breathguard/internal/types"
)

// handleSubmitSample accepts one sensing-node sample over HTTP. The body uses
// the same wire format as the MQTT transport and must carry patient_id.
// Accepted samples return 202; processing is asynchronous.
func (s *Server) handleSubmitSample(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			"could not read request body", err))
		return
	}

	sample, err := ingest.DecodeSample(body, "", s.clock)
	if err != nil {
		Error(w, r, err)
		return
	}

	if err := s.pipeline.Submit(r.Context(), sample); err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusAccepted, APIResponse{Data: map[string]any{
		"patient_id": sample.PatientID,
		"timestamp":  sample.Timestamp,
	}})
}

// handleLatest returns the freshest snapshot for a patient.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	snap, err := s.pipeline.Latest(r.Context(), patientID)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: snap})
}

// handleReadings returns recent risk scores, newest first.
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	limit, err := limitParam(r, 300)
	if err != nil {
		Error(w, r, err)
		return
	}

	scores, err := s.scores.RecentScores(r.Context(), patientID, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"patient_id": patientID,
		"readings":   emptyIfNil(scores),
	}})
}

// handleEvents returns the alert event history, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	limit, err := limitParam(r, 100)
	if err != nil {
		Error(w, r, err)
		return
	}

	events, err := s.events.ListEvents(r.Context(), patientID, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"patient_id": patientID,
		"events":     emptyIfNil(events),
	}})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	profile, err := s.profiles.GetProfile(r.Context(), patientID)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: profile})
}

// profileRequest is the profile administration payload.
type profileRequest struct {
	Name           string `json:"name" validate:"required,max=128"`
	Age            int    `json:"age" validate:"min=0,max=120"`
	Gender         string `json:"gender" validate:"omitempty,oneof=male female other"`
	Smoker         string `json:"smoker" validate:"oneof=non_smoker passive_smoker active_smoker"`
	AllergyPresent bool   `json:"allergy_present"`
	AllergyType    string `json:"allergy_type" validate:"oneof=none dust pollen pets other"`
	Occupation     string `json:"occupation" validate:"oneof=home_office outdoor_traffic factory_heavy"`
	AlertPhone     string `json:"alert_phone" validate:"omitempty,e164"`
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req profileRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			"profile validation failed: "+err.Error(), err))
		return
	}
	if req.AllergyPresent && req.AllergyType == string(types.AllergyNone) {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			"allergy_type must be set when allergy_present is true", nil))
		return
	}

	profile := &types.PatientProfile{
		PatientID:      patientID,
		Name:           req.Name,
		Age:            req.Age,
		Gender:         req.Gender,
		Smoker:         types.SmokerClass(req.Smoker),
		AllergyPresent: req.AllergyPresent,
		AllergyType:    types.AllergyClass(req.AllergyType),
		Occupation:     types.OccupationClass(req.Occupation),
		AlertPhone:     req.AlertPhone,
	}
	if err := s.profiles.UpsertProfile(r.Context(), profile); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: profile})
}

// handleFailedDeliveries surfaces permanently failed alert deliveries so the
// dashboard can show the delivery-failure indicator.
func (s *Server) handleFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	limit, err := limitParam(r, 50)
	if err != nil {
		Error(w, r, err)
		return
	}

	outcomes, err := s.outcomes.ListFailedOutcomes(r.Context(), patientID, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"patient_id": patientID,
		"failed":     emptyIfNil(outcomes),
	}})
}

// healthCheckTimeout caps the combined probe runtime.
const healthCheckTimeout = 2 * time.Second

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// handleHealth runs all probes concurrently; any failure yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components = make(map[string]componentStatus, len(s.probes))
		healthy    = true
	)
	for _, probe := range s.probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			status := componentStatus{Status: "healthy"}
			if err := p.Check(ctx); err != nil {
				status = componentStatus{Status: "unhealthy", Message: err.Error()}
			}
			mu.Lock()
			components[p.Name()] = status
			if status.Status != "healthy" {
				healthy = false
			}
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	resp := healthResponse{Status: "healthy", Components: components}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	JSON(w, r, code, resp)
}

// limitParam parses the optional ?limit= query parameter.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidLimit,
			"limit must be a positive integer", err)
	}
	return limit, nil
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
