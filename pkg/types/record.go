package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownPackageID is assigned to records that arrive without a usable id_paquete.
const UnknownPackageID = "unknown"

// ErrMalformed is returned by Decode when the payload is not a JSON object.
var ErrMalformed = errors.New("malformed telemetry payload")

// Wire field names published by the package sensors.
const (
	fieldPackageID   = "id_paquete"
	fieldTimestamp   = "timestamp_utc"
	fieldTimestampV1 = "timestamp"
	fieldTemperature = "temperatura"
	fieldGForce      = "fuerza_g"
	fieldDoorOpen    = "puerta_abierta"
	fieldLatitude    = "latitud"
	fieldLongitude   = "longitud"
)

// Record is one normalized telemetry event. Optional signals are nil when the
// sensor did not report them on this tick. A Record is not modified after
// decoding; use WithTimestamp to obtain a stamped copy.
type Record struct {
	PackageID   string
	Timestamp   string
	Temperature *float64
	GForce      *float64
	DoorOpen    *bool
	Latitude    *float64
	Longitude   *float64
}

// Decode parses a sensor payload. Unknown fields are ignored and every known
// field is defaulted on its own, so a partially valid object still yields a
// usable Record.
func Decode(payload []byte) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformed)
	}

	rec := &Record{
		PackageID:   rawString(fields, fieldPackageID),
		Timestamp:   rawString(fields, fieldTimestamp),
		Temperature: rawFloat(fields, fieldTemperature),
		GForce:      rawFloat(fields, fieldGForce),
		DoorOpen:    rawBool(fields, fieldDoorOpen),
		Latitude:    rawFloat(fields, fieldLatitude),
		Longitude:   rawFloat(fields, fieldLongitude),
	}
	if strings.TrimSpace(rec.PackageID) == "" {
		rec.PackageID = UnknownPackageID
	}
	if rec.Timestamp == "" {
		rec.Timestamp = rawString(fields, fieldTimestampV1)
	}
	return rec, nil
}

// Shock returns the reported g-force, or 0 when the sensor sent none.
func (r *Record) Shock() float64 {
	if r.GForce == nil {
		return 0
	}
	return *r.GForce
}

// HasPosition reports whether both coordinates are present.
func (r *Record) HasPosition() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// WithTimestamp returns r unchanged if it already carries a timestamp,
// otherwise a copy stamped with now in UTC.
func (r *Record) WithTimestamp(now time.Time) *Record {
	if r.Timestamp != "" {
		return r
	}
	cp := *r
	cp.Timestamp = now.UTC().Format(time.RFC3339Nano)
	return &cp
}

// MarshalJSON encodes the record with the sensor wire names, omitting
// absent signals.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PackageID   string   `json:"id_paquete"`
		Timestamp   string   `json:"timestamp_utc,omitempty"`
		Temperature *float64 `json:"temperatura,omitempty"`
		GForce      *float64 `json:"fuerza_g,omitempty"`
		DoorOpen    *bool    `json:"puerta_abierta,omitempty"`
		Latitude    *float64 `json:"latitud,omitempty"`
		Longitude   *float64 `json:"longitud,omitempty"`
	}{
		PackageID:   r.PackageID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		GForce:      r.GForce,
		DoorOpen:    r.DoorOpen,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	})
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func rawString(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func rawFloat(fields map[string]json.RawMessage, key string) *float64 {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func rawBool(fields map[string]json.RawMessage, key string) *bool {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// Float returns a pointer to v. Convenient when building records in code.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
