package platform

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rigwatch/rigwatch/internal/domain"
)

const defaultEthermineBaseURL = "https://api.ethermine.org"

// Ethermine looks up worker stats by wallet address; no authentication.
type Ethermine struct {
	baseURL string
	client  *client
	now     func() time.Time
}

func NewEthermine(baseURL string, timeout time.Duration) *Ethermine {
	if baseURL == "" {
		baseURL = defaultEthermineBaseURL
	}

	return &Ethermine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newClient("ethermine", timeout),
		now:     time.Now,
	}
}

func (e *Ethermine) Platform() domain.Platform {
	return domain.PlatformEthermine
}

func (e *Ethermine) Configured(creds domain.Credentials) bool {
	return creds.HasEthermine()
}

type ethermineWorker struct {
	Worker          string  `json:"worker"`
	CurrentHashrate float64 `json:"currentHashrate"`
	LastSeen        int64   `json:"lastSeen"`
}

type ethermineDashboard struct {
	Status string `json:"status"`
	Data   struct {
		Workers []ethermineWorker `json:"workers"`
	} `json:"data"`
}

// FetchRigs returns the wallet's workers. An envelope status other than "OK"
// means no data, which is an empty result rather than a hard error.
func (e *Ethermine) FetchRigs(ctx context.Context, creds domain.Credentials) ([]domain.Rig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/miner/"+creds.EthermineWallet+"/dashboard", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var payload ethermineDashboard
	if err := e.client.doJSON(req, &payload); err != nil {
		return nil, err
	}

	if payload.Status != "OK" {
		return nil, nil
	}

	now := e.now()
	rigs := make([]domain.Rig, 0, len(payload.Data.Workers))
	for _, worker := range payload.Data.Workers {
		status := domain.StatusOffline
		if worker.CurrentHashrate > 0 {
			status = domain.StatusOnline
		}

		lastSeen := now
		if worker.LastSeen > 0 {
			lastSeen = time.Unix(worker.LastSeen, 0).UTC()
		}

		rigs = append(rigs, domain.Rig{
			ID:           worker.Worker,
			Name:         worker.Worker,
			Platform:     domain.PlatformEthermine,
			Status:       status,
			Hashrate:     worker.CurrentHashrate,
			HashrateUnit: "MH/s",
			LastSeen:     lastSeen,
		})
	}

	return rigs, nil
}
