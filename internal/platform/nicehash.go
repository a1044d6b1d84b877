package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rigwatch/rigwatch/internal/domain"
)

const defaultNiceHashBaseURL = "https://api2.nicehash.com"

// NiceHash calls the NiceHash API v2 with HMAC-signed requests.
type NiceHash struct {
	baseURL string
	client  *client
	now     func() time.Time
}

// NewNiceHash builds the adapter. baseURL is overridable for tests; empty
// means the production endpoint.
func NewNiceHash(baseURL string, timeout time.Duration) *NiceHash {
	if baseURL == "" {
		baseURL = defaultNiceHashBaseURL
	}

	return &NiceHash{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newClient("nicehash", timeout),
		now:     time.Now,
	}
}

func (n *NiceHash) Platform() domain.Platform {
	return domain.PlatformNiceHash
}

func (n *NiceHash) Configured(creds domain.Credentials) bool {
	return creds.HasNiceHash()
}

type nhDevice struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	FanSpeed    float64 `json:"revolutionsPerMinute"`
	Load        float64 `json:"load"`
}

type nhRig struct {
	RigID       string `json:"rigId"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	MinerStatus string `json:"minerStatus"`
	Stats       struct {
		HashrateTotal float64 `json:"hashrateTotal"`
	} `json:"stats"`
	Devices []nhDevice `json:"devices"`
}

type nhRigsResponse struct {
	MiningRigs []nhRig `json:"miningRigs"`
}

// FetchRigs lists the user's mining rigs. Missing or malformed fields default
// to zero values and offline status instead of failing the whole call.
func (n *NiceHash) FetchRigs(ctx context.Context, creds domain.Credentials) ([]domain.Rig, error) {
	var payload nhRigsResponse
	if err := n.signedGet(ctx, creds, "/main/api/v2/mining/rigs2", "", &payload); err != nil {
		return nil, err
	}

	now := n.now()
	rigs := make([]domain.Rig, 0, len(payload.MiningRigs))
	for _, raw := range payload.MiningRigs {
		rigs = append(rigs, n.normalize(raw, now))
	}

	return rigs, nil
}

func (n *NiceHash) normalize(raw nhRig, now time.Time) domain.Rig {
	status := raw.Status
	if status == "" {
		status = raw.MinerStatus
	}
	status = strings.ToLower(status)
	if status == "" {
		status = string(domain.StatusOffline)
	}
	// NiceHash reports MINING for an actively hashing rig
	if status == "mining" || status == "benchmarking" {
		status = string(domain.StatusOnline)
	}

	id := raw.RigID
	if id == "" {
		id = raw.Name
	}

	rig := domain.Rig{
		ID:           id,
		Name:         raw.Name,
		Platform:     domain.PlatformNiceHash,
		Status:       domain.Status(status),
		Hashrate:     raw.Stats.HashrateTotal,
		HashrateUnit: "MH/s",
		LastSeen:     now,
	}

	if len(raw.Devices) > 0 {
		rig.Temperature = domain.Float64Ptr(raw.Devices[0].Temperature)

		details := make([]domain.GpuDetail, 0, len(raw.Devices))
		for i, dev := range raw.Devices {
			name := dev.Name
			if name == "" {
				name = fmt.Sprintf("GPU %d", i+1)
			}
			details = append(details, domain.GpuDetail{
				ID:          fmt.Sprintf("gpu%d", i),
				Name:        name,
				Temperature: dev.Temperature,
				FanSpeed:    dev.FanSpeed,
			})
		}
		rig.GpuDetails = details
	}

	return rig
}

type nhAccountResponse struct {
	Available string `json:"available"`
}

// FetchEarnings returns the user's available BTC balance from the accounting
// API, feeding the auto-payout threshold comparison.
func (n *NiceHash) FetchEarnings(ctx context.Context, creds domain.Credentials) (float64, error) {
	var payload nhAccountResponse
	if err := n.signedGet(ctx, creds, "/main/api/v2/accounting/accounts2/BTC", "", &payload); err != nil {
		return 0, err
	}

	if payload.Available == "" {
		return 0, nil
	}

	earnings, err := strconv.ParseFloat(payload.Available, 64)
	if err != nil {
		return 0, nil
	}

	return earnings, nil
}

// FetchPublicStats proxies the unauthenticated global market stats endpoint
// for the dashboard's BTC price widget.
func (n *NiceHash) FetchPublicStats(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/main/api/v2/public/stats/global/current", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var payload json.RawMessage
	if err := n.client.doJSON(req, &payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// signedGet performs an authenticated GET with the full NiceHash signing
// envelope: X-Time, X-Nonce, X-Organization-Id, X-Request-Id and an X-Auth
// header carrying key:HMAC-SHA256(secret, canonical request).
func (n *NiceHash) signedGet(ctx context.Context, creds domain.Credentials, path, query string, out interface{}) error {
	endpoint := n.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	epochMillis := strconv.FormatInt(n.now().UnixMilli(), 10)
	nonce := uuid.NewString()

	signature := signNiceHashRequest(
		creds.NiceHashAPIKey,
		creds.NiceHashAPISecret,
		creds.NiceHashOrgID,
		epochMillis,
		nonce,
		http.MethodGet,
		path,
		query,
		nil,
	)

	req.Header.Set("X-Time", epochMillis)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Organization-Id", creds.NiceHashOrgID)
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("X-Auth", creds.NiceHashAPIKey+":"+signature)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return n.client.doJSON(req, out)
}

// signNiceHashRequest implements the NiceHash API v2 signature: the listed
// fields joined by 0x00 bytes, HMAC-SHA256 under the API secret, hex encoded.
// Field order is fixed by the API: key, time, nonce, empty, org id, empty,
// method, path, query, then the body for requests that carry one.
func signNiceHashRequest(apiKey, apiSecret, orgID, epochMillis, nonce, method, path, query string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(apiSecret))

	fields := [][]byte{
		[]byte(apiKey),
		[]byte(epochMillis),
		[]byte(nonce),
		nil,
		[]byte(orgID),
		nil,
		[]byte(method),
		[]byte(path),
		[]byte(query),
	}
	if len(body) > 0 {
		fields = append(fields, body)
	}

	for i, field := range fields {
		if i > 0 {
			mac.Write([]byte{0x00})
		}
		mac.Write(field)
	}

	return hex.EncodeToString(mac.Sum(nil))
}