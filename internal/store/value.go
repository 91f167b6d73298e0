package store

import (
	"fmt"
	"strconv"
	"time"
)

// Value is one typed document field in the store's wire encoding. Exactly one
// tag is populated; the JSON layout matches the backend's
// {stringValue: ...} / {doubleValue: ...} / {mapValue: {fields: ...}} shapes.
// Construct values with the String/Double/Boolean/Integer/Timestamp/GeoPoint/Map
// helpers so the one-tag invariant holds structurally.
type Value struct {
	StringValue    *string  `json:"stringValue,omitempty"`
	DoubleValue    *float64 `json:"doubleValue,omitempty"`
	BooleanValue   *bool    `json:"booleanValue,omitempty"`
	IntegerValue   *string  `json:"integerValue,omitempty"`
	TimestampValue *string  `json:"timestampValue,omitempty"`
	GeoPointValue  *LatLng  `json:"geoPointValue,omitempty"`
	MapValue       *Fields  `json:"mapValue,omitempty"`
}

// LatLng is the geographic point payload of a geoPointValue.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Fields wraps the nested field map of a mapValue.
type Fields struct {
	Fields map[string]Value `json:"fields"`
}

// String builds a stringValue.
func String(s string) Value { return Value{StringValue: &s} }

// Double builds a doubleValue.
func Double(f float64) Value { return Value{DoubleValue: &f} }

// Boolean builds a booleanValue.
func Boolean(b bool) Value { return Value{BooleanValue: &b} }

// Integer builds an integerValue. The backend encodes integers as decimal strings.
func Integer(i int64) Value {
	s := strconv.FormatInt(i, 10)
	return Value{IntegerValue: &s}
}

// Timestamp builds a timestampValue in RFC 3339 UTC.
func Timestamp(t time.Time) Value {
	s := t.UTC().Format(time.RFC3339Nano)
	return Value{TimestampValue: &s}
}

// GeoPoint builds a geoPointValue.
func GeoPoint(lat, lng float64) Value {
	return Value{GeoPointValue: &LatLng{Latitude: lat, Longitude: lng}}
}

// Map builds a mapValue over nested fields.
func Map(fields map[string]Value) Value {
	return Value{MapValue: &Fields{Fields: fields}}
}

// AsString returns the string payload, if this is a stringValue.
func (v Value) AsString() (string, bool) {
	if v.StringValue == nil {
		return "", false
	}
	return *v.StringValue, true
}

// AsDouble returns the float payload, if this is a doubleValue.
func (v Value) AsDouble() (float64, bool) {
	if v.DoubleValue == nil {
		return 0, false
	}
	return *v.DoubleValue, true
}

// AsBoolean returns the bool payload, if this is a booleanValue.
func (v Value) AsBoolean() (bool, bool) {
	if v.BooleanValue == nil {
		return false, false
	}
	return *v.BooleanValue, true
}

// AsInteger returns the integer payload, if this is an integerValue.
func (v Value) AsInteger() (int64, bool) {
	if v.IntegerValue == nil {
		return 0, false
	}
	i, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// AsTimestamp returns the parsed timestamp payload, if this is a timestampValue.
func (v Value) AsTimestamp() (time.Time, bool) {
	if v.TimestampValue == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, *v.TimestampValue)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AsGeoPoint returns the geographic point payload, if this is a geoPointValue.
func (v Value) AsGeoPoint() (LatLng, bool) {
	if v.GeoPointValue == nil {
		return LatLng{}, false
	}
	return *v.GeoPointValue, true
}

// AsMap returns the nested fields, if this is a mapValue.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.MapValue == nil {
		return nil, false
	}
	return v.MapValue.Fields, true
}

func (v Value) kind() string {
	switch {
	case v.StringValue != nil:
		return "string"
	case v.DoubleValue != nil:
		return "double"
	case v.BooleanValue != nil:
		return "boolean"
	case v.IntegerValue != nil:
		return "integer"
	case v.TimestampValue != nil:
		return "timestamp"
	case v.GeoPointValue != nil:
		return "geoPoint"
	case v.MapValue != nil:
		return "map"
	}
	return "empty"
}

// GoString aids log output for unexpected values.
func (v Value) GoString() string { return fmt.Sprintf("store.Value(%s)", v.kind()) }
