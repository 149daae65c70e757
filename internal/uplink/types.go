package uplink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SystemID identifies one remote heat pump installation.
type SystemID int

// Label renders the id for metric labels and topics.
func (id SystemID) Label() string {
	return strconv.Itoa(int(id))
}

// ParameterID identifies one remote data point. The vendor API uses plain
// integers for most points and well-known string keys for a few derived
// ones, so the wire value may be either.
type ParameterID string

func (id *ParameterID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ParameterID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parameter id must be string or number: %w", err)
	}
	*id = ParameterID(n.String())
	return nil
}

func (id ParameterID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id ParameterID) String() string {
	return string(id)
}

// Value holds a parameter value in display or native scale. Numeric points
// arrive as JSON numbers, enumerated points as bare strings.
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parameter value must be string or number: %w", err)
	}
	*v = Value(n.String())
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

func (v Value) String() string {
	return string(v)
}

// Float64 reports the numeric form of the value, if it has one.
func (v Value) Float64() (float64, bool) {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool interprets enumerated and numeric values as a switch state.
func (v Value) Bool() bool {
	switch strings.ToLower(string(v)) {
	case "on", "yes", "true", "active":
		return true
	case "", "off", "no", "false", "inactive":
		return false
	}
	f, ok := v.Float64()
	return ok && f != 0
}

// Parameter is an immutable snapshot of one remote data point. Snapshots are
// superseded wholesale on each fetch, never field-merged.
type Parameter struct {
	ParameterID  ParameterID `json:"parameterId"`
	Title        string      `json:"title"`
	Designation  string      `json:"designation"`
	Unit         string      `json:"unit"`
	Value        Value       `json:"value"`
	RawValue     Value       `json:"rawValue"`
	DisplayValue string      `json:"displayValue"`
}

// System is the remote installation metadata as reported by the vendor.
type System struct {
	SystemID         SystemID `json:"systemId"`
	Name             string   `json:"name"`
	ProductName      string   `json:"productName"`
	SerialNumber     string   `json:"serialNumber"`
	ConnectionStatus string   `json:"connectionStatus"`
	HasAlarmed       bool     `json:"hasAlarmed"`
}

// Unit is one slave unit within a system.
type Unit struct {
	SystemUnitID int    `json:"systemUnitId"`
	Name         string `json:"name"`
	ShortName    string `json:"shortName"`
	Product      string `json:"product"`
	Firmware     string `json:"firmware"`
}

// Category is a service-info grouping of parameters.
type Category struct {
	CategoryID string      `json:"categoryId"`
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// StatusIcon is one active status indicator together with the parameters the
// vendor bundles into the same payload.
type StatusIcon struct {
	Title      string      `json:"title"`
	Image      string      `json:"image"`
	Parameters []Parameter `json:"parameters"`
}

// Notification is one active alarm or info notice. All fields are scalar so
// two notifications compare by value, which is what the poll diff relies on:
// the vendor does not guarantee stable ordering.
type Notification struct {
	NotificationID int    `json:"notificationId"`
	SystemUnitID   int    `json:"systemUnitId"`
	OccurredAt     string `json:"occuredAt"`
	Severity       int    `json:"severity"`
	Status         string `json:"status"`
	Header         string `json:"header"`
	Description    string `json:"description"`
}

type paged[T any] struct {
	Page         int `json:"page"`
	ItemsPerPage int `json:"itemsPerPage"`
	NumItems     int `json:"numItems"`
	Objects      []T `json:"objects"`
}
