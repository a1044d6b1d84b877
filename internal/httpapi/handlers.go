package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

const maxBodyBytes = 1 << 20

// handleListRigs serves the dashboard's rig list. The cache mirror answers
// when it has a blob; otherwise the repository is read and the mirror is
// repopulated for the next call.
func (s *Server) handleListRigs(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	ctx := r.Context()

	rigs, err := s.mirror.Get(ctx, uid)
	if err != nil {
		s.log.Warn("rig mirror read failed, falling back to repository", slog.Any("error", err))
		rigs = nil
	}

	if rigs == nil {
		rigs, err = s.rigs.List(ctx, uid)
		if err != nil {
			writeError(w, apperrors.NewStorageError(err))
			return
		}
		if len(rigs) > 0 {
			if err := s.mirror.Put(ctx, uid, rigs); err != nil {
				s.log.Warn("rig mirror repopulate failed", slog.Any("error", err))
			}
		}
	}

	if rigs == nil {
		rigs = []domain.Rig{}
	}

	writeJSON(w, http.StatusOK, rigs)
}

type upsertRigRequest struct {
	UID     string      `json:"uid"`
	RigData *domain.Rig `json:"rigData"`
}

// handleUpsertRig accepts a manual add or direct edit of one rig document.
func (s *Server) handleUpsertRig(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	var req upsertRigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RigData == nil || req.RigData.ID == "" {
		writeError(w, apperrors.NewValidationError("rigData with a non-empty id is required"))
		return
	}
	if req.UID != "" && req.UID != uid {
		writeError(w, apperrors.NewValidationError("uid in body does not match request identity"))
		return
	}

	rig := *req.RigData
	if rig.Platform == "" {
		rig.Platform = domain.PlatformManual
	}

	ctx := r.Context()
	if err := s.users.Ensure(ctx, uid); err != nil {
		writeError(w, apperrors.NewStorageError(err))
		return
	}
	if err := s.rigs.Upsert(ctx, uid, rig); err != nil {
		writeError(w, err)
		return
	}

	s.refreshMirror(ctx, uid)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteRig removes the document and tombstones the id so no later
// sync resurrects it. An already-gone rig is still a success.
func (s *Server) handleDeleteRig(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	rigID := r.PathValue("rigId")
	if rigID == "" {
		writeError(w, apperrors.NewValidationError("rig id is required"))
		return
	}

	ctx := r.Context()

	if err := s.settings.AddTombstones(ctx, uid, rigID); err != nil {
		writeError(w, err)
		return
	}

	if err := s.rigs.Delete(ctx, uid, rigID); err != nil && !notFoundOK(err) {
		writeError(w, err)
		return
	}

	s.refreshMirror(ctx, uid)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	records, err := s.alerts.List(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.AlertRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

type appendAlertRequest struct {
	RigID    string `json:"rigId"`
	RigName  string `json:"rigName"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (s *Server) handleAppendAlert(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	var req appendAlertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Message == "" {
		writeError(w, apperrors.NewValidationError("message is required"))
		return
	}
	if req.Type == "" {
		req.Type = domain.AlertTypeCustom
	}
	if req.Severity == "" {
		req.Severity = "info"
	}

	record := domain.AlertRecord{
		ID:        uuid.NewString(),
		RigID:     domain.NormalizeRigID(req.RigID),
		RigName:   req.RigName,
		Type:      req.Type,
		Message:   req.Message,
		Severity:  req.Severity,
		Timestamp: time.Now().UTC(),
	}
	if err := s.alerts.Append(r.Context(), uid, record); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePayoutHistory(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	records, err := s.payouts.List(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.PayoutRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	settings, err := s.settings.GetPayoutSettings(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	var settings domain.PayoutSettings
	if err := decodeBody(r, &settings); err != nil {
		writeError(w, err)
		return
	}
	if settings.Provider == "" {
		settings.Provider = domain.ProviderNowPayments
	}
	if settings.Threshold < 0 {
		writeError(w, apperrors.NewValidationError("threshold must not be negative"))
		return
	}

	ctx := r.Context()
	if err := s.users.Ensure(ctx, uid); err != nil {
		writeError(w, apperrors.NewStorageError(err))
		return
	}
	if err := s.settings.SetPayoutSettings(ctx, uid, settings); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSetCredentials stores the caller's upstream API credentials. The
// route is write-only: secrets are never served back out.
func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	var creds domain.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, err)
		return
	}

	// NiceHash signing needs all three pieces; a partial set can only fail
	// at fetch time, so reject it here.
	nhFields := 0
	for _, v := range []string{creds.NiceHashAPIKey, creds.NiceHashAPISecret, creds.NiceHashOrgID} {
		if v != "" {
			nhFields++
		}
	}
	if nhFields != 0 && nhFields != 3 {
		writeError(w, apperrors.NewValidationError("nicehash credentials require api key, secret and organization id together"))
		return
	}

	ctx := r.Context()
	if err := s.users.Ensure(ctx, uid); err != nil {
		writeError(w, apperrors.NewStorageError(err))
		return
	}
	if err := s.settings.SetCredentials(ctx, uid, creds); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetAlertSettings(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	settings, err := s.settings.GetAlertSettings(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetAlertSettings(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	var settings domain.AlertSettings
	if err := decodeBody(r, &settings); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := s.users.Ensure(ctx, uid); err != nil {
		writeError(w, apperrors.NewStorageError(err))
		return
	}
	if err := s.settings.SetAlertSettings(ctx, uid, settings); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNiceHashPublic passes the public market-stats feed through untouched.
// The upstream endpoint is unauthenticated but the route still requires an
// identity like every other /api route.
func (s *Server) handleNiceHashPublic(w http.ResponseWriter, r *http.Request) {
	if uid := s.mustUID(w, r); uid == "" {
		return
	}

	stats, err := s.publicStats.FetchPublicStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(stats)
}

// handleTriggerSync enqueues one manual reconciliation run.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	uid := s.mustUID(w, r)
	if uid == "" {
		return
	}

	if err := s.enqueueSync(r.Context()); err != nil {
		s.log.Error("failed to enqueue manual sync", slog.Any("error", err))
		writeError(w, apperrors.NewStorageError(err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Readiness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mustUID resolves the caller identity, writing a 401 and returning "" when
// the request carries none.
func (s *Server) mustUID(w http.ResponseWriter, r *http.Request) string {
	uid := s.identity.Resolve(r)
	if uid == "" {
		writeError(w, apperrors.NewNotAuthenticatedError())
	}
	return uid
}

func (s *Server) refreshMirror(ctx context.Context, uid string) {
	rigs, err := s.rigs.List(ctx, uid)
	if err != nil {
		s.log.Warn("rig mirror refresh read failed", slog.Any("error", err))
		return
	}
	if err := s.mirror.Put(ctx, uid, rigs); err != nil {
		s.log.Warn("rig mirror refresh write failed", slog.Any("error", err))
	}
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return apperrors.NewValidationError("invalid request body")
	}
	return nil
}
