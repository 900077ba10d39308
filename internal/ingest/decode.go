// Package ingest turns sensing-node payloads into RawSamples. The same
// decoder serves both transports: the HTTP sample endpoint and the MQTT
// consumer.
package ingest

import (
	"encoding/json"
	"time"

	"breathguard/internal/types"
)

// wireSample mirrors the node firmware's JSON field names. The firmware sends
// readings under short channel names and an optional unix-seconds timestamp;
// dust appears as either "dust" or the older "dust_equiv" key depending on
// firmware revision.
type wireSample struct {
	PatientID   string   `json:"patient_id"`
	Timestamp   *int64   `json:"ts"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	MQ2         *float64 `json:"mq2"`
	MQ135       *float64 `json:"mq135"`
	Dust        *float64 `json:"dust"`
	DustEquiv   *float64 `json:"dust_equiv"`
}

// DecodeSample parses a node payload into a RawSample. The patientID argument
// is the transport-derived identity (MQTT topic segment or URL); when the
// payload also carries a patient_id the two must agree. A missing timestamp
// falls back to the receive time.
func DecodeSample(payload []byte, patientID string, clock types.Clock) (*types.RawSample, error) {
	var w wireSample
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, types.MalformedSample("payload is not valid JSON")
	}

	if w.PatientID != "" && patientID != "" && w.PatientID != patientID {
		return nil, types.MalformedSample("payload patient_id does not match transport identity")
	}
	id := patientID
	if id == "" {
		id = w.PatientID
	}
	if id == "" {
		return nil, types.MalformedSample("missing patient_id")
	}

	ts := clock.Now()
	if w.Timestamp != nil {
		if *w.Timestamp <= 0 {
			return nil, types.MalformedSample("ts must be positive unix seconds")
		}
		ts = time.Unix(*w.Timestamp, 0).UTC()
	}

	s := &types.RawSample{
		PatientID:   id,
		Timestamp:   ts,
		Temperature: w.Temperature,
		Humidity:    w.Humidity,
		GasMQ2:      w.MQ2,
		GasMQ135:    w.MQ135,
		DustADC:     w.Dust,
	}
	if s.DustADC == nil {
		s.DustADC = w.DustEquiv
	}
	return s, nil
}
