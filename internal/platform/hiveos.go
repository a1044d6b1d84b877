package platform

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rigwatch/rigwatch/internal/domain"
)

const defaultHiveOSBaseURL = "https://api2.hiveos.farm"

// HiveOS calls the HiveOS farm API with bearer-token auth. When the user has
// a stored farm id a single farm-scoped workers call suffices; otherwise the
// adapter enumerates farms first and collects workers per farm.
type HiveOS struct {
	baseURL string
	client  *client
	now     func() time.Time
}

func NewHiveOS(baseURL string, timeout time.Duration) *HiveOS {
	if baseURL == "" {
		baseURL = defaultHiveOSBaseURL
	}

	return &HiveOS{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newClient("hiveos", timeout),
		now:     time.Now,
	}
}

func (h *HiveOS) Platform() domain.Platform {
	return domain.PlatformHiveOS
}

func (h *HiveOS) Configured(creds domain.Credentials) bool {
	return creds.HasHiveOS()
}

type hiveGpuStat struct {
	Name  string  `json:"name"`
	Temp  float64 `json:"temp"`
	Fan   float64 `json:"fan"`
	Hash  float64 `json:"hash"`
	Power float64 `json:"power"`
}

type hiveWorker struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stats struct {
		Online  bool  `json:"online"`
		Uptime  int64 `json:"uptime"`
		Updated int64 `json:"updated"`
	} `json:"stats"`
	Hashrate float64       `json:"hashrate"`
	Power    float64       `json:"power"`
	Algo     string        `json:"algo"`
	Pool     string        `json:"pool"`
	GpuStats []hiveGpuStat `json:"gpu_stats"`
}

type hiveWorkersResponse struct {
	Data []hiveWorker `json:"data"`
}

type hiveFarmsResponse struct {
	Data []struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

// FetchRigs lists workers. With a farm id the call is farm-scoped; without
// one every farm is enumerated and a single farm's failure skips that farm
// only, never the rest of the user's farms.
func (h *HiveOS) FetchRigs(ctx context.Context, creds domain.Credentials) ([]domain.Rig, error) {
	if creds.HiveOSFarmID != "" {
		return h.fetchFarmWorkers(ctx, creds.HiveOSToken, creds.HiveOSFarmID)
	}

	var farms hiveFarmsResponse
	if err := h.getJSON(ctx, creds.HiveOSToken, "/api/v2/farms", &farms); err != nil {
		return nil, err
	}

	var rigs []domain.Rig
	for _, farm := range farms.Data {
		farmRigs, err := h.fetchFarmWorkers(ctx, creds.HiveOSToken, strconv.FormatInt(farm.ID, 10))
		if err != nil {
			continue
		}
		rigs = append(rigs, farmRigs...)
	}

	return rigs, nil
}

func (h *HiveOS) fetchFarmWorkers(ctx context.Context, token, farmID string) ([]domain.Rig, error) {
	var payload hiveWorkersResponse
	path := fmt.Sprintf("/api/v2/farms/%s/workers", farmID)
	if err := h.getJSON(ctx, token, path, &payload); err != nil {
		return nil, err
	}

	now := h.now()
	rigs := make([]domain.Rig, 0, len(payload.Data))
	for _, worker := range payload.Data {
		rigs = append(rigs, h.normalize(worker, now))
	}

	return rigs, nil
}

func (h *HiveOS) normalize(worker hiveWorker, now time.Time) domain.Rig {
	status := domain.StatusOffline
	if worker.Stats.Online {
		status = domain.StatusOnline
	}

	id := strconv.FormatInt(worker.ID, 10)
	if worker.ID == 0 {
		id = worker.Name
	}

	lastSeen := now
	if worker.Stats.Updated > 0 {
		lastSeen = time.Unix(worker.Stats.Updated, 0).UTC()
	}

	rig := domain.Rig{
		ID:               id,
		Name:             worker.Name,
		Platform:         domain.PlatformHiveOS,
		Status:           status,
		Hashrate:         worker.Hashrate,
		HashrateUnit:     "MH/s",
		PowerConsumption: worker.Power,
		Uptime:           worker.Stats.Uptime,
		Algorithm:        worker.Algo,
		Pool:             worker.Pool,
		LastSeen:         lastSeen,
	}

	if len(worker.GpuStats) > 0 {
		// worst-case thermal signal: the hottest GPU, not the average
		maxTemp := worker.GpuStats[0].Temp
		maxFan := worker.GpuStats[0].Fan

		details := make([]domain.GpuDetail, 0, len(worker.GpuStats))
		for i, gpu := range worker.GpuStats {
			if gpu.Temp > maxTemp {
				maxTemp = gpu.Temp
			}
			if gpu.Fan > maxFan {
				maxFan = gpu.Fan
			}

			name := gpu.Name
			if name == "" {
				name = fmt.Sprintf("GPU %d", i+1)
			}
			details = append(details, domain.GpuDetail{
				ID:          fmt.Sprintf("gpu%d", i),
				Name:        name,
				Temperature: gpu.Temp,
				FanSpeed:    gpu.Fan,
				Hashrate:    gpu.Hash,
				Power:       gpu.Power,
			})
		}

		rig.Temperature = domain.Float64Ptr(maxTemp)
		rig.FanSpeed = domain.Float64Ptr(maxFan)
		rig.GpuDetails = details
	}

	return rig
}

func (h *HiveOS) getJSON(ctx context.Context, token, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return h.client.doJSON(req, out)
}
