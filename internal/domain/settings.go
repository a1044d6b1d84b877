package domain

import "time"

// Credentials holds the per-user upstream secrets one adapter call needs.
// Every adapter invocation receives an explicit Credentials value; no
// process-wide key is ever shared across tenants.
type Credentials struct {
	NiceHashAPIKey    string `json:"nicehashApiKey,omitempty"`
	NiceHashAPISecret string `json:"nicehashApiSecret,omitempty"`
	NiceHashOrgID     string `json:"nicehashOrgId,omitempty"`
	HiveOSToken       string `json:"hiveosToken,omitempty"`
	HiveOSFarmID      string `json:"hiveosFarmId,omitempty"`
	EthermineWallet   string `json:"ethermineWallet,omitempty"`
}

// HasNiceHash reports whether the signed NiceHash API can be called.
func (c Credentials) HasNiceHash() bool {
	return c.NiceHashAPIKey != "" && c.NiceHashAPISecret != "" && c.NiceHashOrgID != ""
}

// HasHiveOS reports whether the HiveOS API can be called.
func (c Credentials) HasHiveOS() bool {
	return c.HiveOSToken != ""
}

// HasEthermine reports whether an Ethermine wallet lookup is possible.
func (c Credentials) HasEthermine() bool {
	return c.EthermineWallet != ""
}

// AlertSettings controls alert delivery for one user.
type AlertSettings struct {
	Enabled bool   `json:"enabled"`
	ChatID  string `json:"chatId,omitempty"`
}

// DefaultAlertSettings is what users get before they touch the settings page.
func DefaultAlertSettings() AlertSettings {
	return AlertSettings{Enabled: true}
}

// AlertRecord is one entry in the per-user alert feed shown on the dashboard.
type AlertRecord struct {
	ID        string    `json:"id"`
	RigID     string    `json:"rigId,omitempty"`
	RigName   string    `json:"rigName,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert feed entry types.
const (
	AlertTypeOffline = "offline"
	AlertTypePayout  = "payout"
	AlertTypeCustom  = "custom"
)
