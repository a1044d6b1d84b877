package domain

import (
	"strings"
	"time"
)

// Platform identifies the upstream source a rig was discovered on.
type Platform string

const (
	PlatformNiceHash  Platform = "NiceHash"
	PlatformHiveOS    Platform = "HiveOS"
	PlatformEthermine Platform = "Ethermine"
	PlatformManual    Platform = "Manual"
)

// Status describes the operational state of a rig.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// GpuDetail holds per-GPU telemetry inside a rig document.
type GpuDetail struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	FanSpeed    float64 `json:"fanSpeed"`
	Hashrate    float64 `json:"hashrate"`
	Power       float64 `json:"power"`
}

// Rig is the canonical rig document. All upstream shapes are normalized into
// this model at the adapter boundary; nothing upstream-specific leaks past it.
type Rig struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Platform         Platform    `json:"platform"`
	Status           Status      `json:"status"`
	Hashrate         float64     `json:"hashrate"`
	HashrateUnit     string      `json:"hashrateUnit,omitempty"`
	PowerConsumption float64     `json:"powerConsumption"`
	Temperature      *float64    `json:"temperature,omitempty"`
	FanSpeed         *float64    `json:"fanSpeed,omitempty"`
	Uptime           int64       `json:"uptime,omitempty"`
	Algorithm        string      `json:"algorithm,omitempty"`
	Pool             string      `json:"pool,omitempty"`
	LastSeen         time.Time   `json:"lastSeen"`
	GpuDetails       []GpuDetail `json:"gpuDetails,omitempty"`
	LastUpdated      time.Time   `json:"lastUpdated"`
	FetchError       string      `json:"fetchError,omitempty"`
}

// NormalizeRigID canonicalizes a rig identifier for comparisons. Rig ids are
// case-insensitive everywhere: tombstones, repository keys, union merging.
func NormalizeRigID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Merge overlays incoming onto stored and returns the result. Zero-valued
// incoming fields keep the stored value so a partial update never erases
// telemetry a previous sync wrote. Identity fields (ID, Platform) always come
// from stored when the incoming record leaves them empty.
func (stored Rig) Merge(incoming Rig) Rig {
	out := stored

	if incoming.ID != "" {
		out.ID = incoming.ID
	}
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Platform != "" {
		out.Platform = incoming.Platform
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if incoming.Hashrate != 0 {
		out.Hashrate = incoming.Hashrate
	}
	if incoming.HashrateUnit != "" {
		out.HashrateUnit = incoming.HashrateUnit
	}
	if incoming.PowerConsumption != 0 {
		out.PowerConsumption = incoming.PowerConsumption
	}
	if incoming.Temperature != nil {
		out.Temperature = incoming.Temperature
	}
	if incoming.FanSpeed != nil {
		out.FanSpeed = incoming.FanSpeed
	}
	if incoming.Uptime != 0 {
		out.Uptime = incoming.Uptime
	}
	if incoming.Algorithm != "" {
		out.Algorithm = incoming.Algorithm
	}
	if incoming.Pool != "" {
		out.Pool = incoming.Pool
	}
	if !incoming.LastSeen.IsZero() {
		out.LastSeen = incoming.LastSeen
	}
	if len(incoming.GpuDetails) > 0 {
		out.GpuDetails = incoming.GpuDetails
	}
	if !incoming.LastUpdated.IsZero() {
		out.LastUpdated = incoming.LastUpdated
	}
	out.FetchError = incoming.FetchError

	return out
}

// Float64Ptr is a small helper for optional telemetry fields.
func Float64Ptr(v float64) *float64 {
	return &v
}
