// Package sync implements the scheduled reconciliation cycle: fan-out
// polling across platform adapters, tombstone-aware merging, persistence to
// the repository and cache mirror, and the offline-alert and auto-payout
// passes.
package sync

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/rigwatch/rigwatch/internal/cache"
	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
	"github.com/rigwatch/rigwatch/internal/platform"
	"github.com/rigwatch/rigwatch/internal/repository"
	"github.com/rigwatch/rigwatch/pkg/metrics"
)

// Notifier delivers alerts for reconciliation findings.
type Notifier interface {
	NotifyOffline(ctx context.Context, uid string, rig domain.Rig, offlineFor time.Duration) error
	NotifyPayout(ctx context.Context, uid, message string) error
}

// PayoutTrigger executes one withdrawal through the user's provider.
type PayoutTrigger interface {
	TriggerPayout(ctx context.Context, provider domain.PayoutProvider, apiKey, address string, amount float64) (string, error)
}

// EarningsSource reports the user's current mining balance. The NiceHash
// adapter implements it against the accounting API.
type EarningsSource interface {
	FetchEarnings(ctx context.Context, creds domain.Credentials) (float64, error)
}

// Config tunes one reconciliation cycle.
type Config struct {
	// Interval bounds the whole cycle; work past the deadline is canceled.
	Interval time.Duration
	// Workers caps concurrent per-user pipelines.
	Workers int
	// OfflineThreshold is how long a rig must be unseen before alerting.
	OfflineThreshold time.Duration
	// RealertInterval throttles repeat offline alerts per rig; zero means
	// alert on every cycle the rig stays offline.
	RealertInterval time.Duration
}

// Engine orchestrates one full reconciliation cycle over all known users.
type Engine struct {
	cfg Config

	users    repository.UserRepository
	rigs     repository.RigRepository
	settings repository.SettingsRepository
	payouts  repository.PayoutRepository

	mirror *cache.Mirror
	guard  *cache.CycleGuard
	marker *cache.AlertMarker

	fetchers []platform.Fetcher
	earnings EarningsSource

	notifier Notifier
	payout   PayoutTrigger

	errs *apperrors.Handler
	log  *slog.Logger
	now  func() time.Time
}

// NewEngine wires the cycle dependencies.
func NewEngine(
	cfg Config,
	users repository.UserRepository,
	rigs repository.RigRepository,
	settings repository.SettingsRepository,
	payouts repository.PayoutRepository,
	mirror *cache.Mirror,
	guard *cache.CycleGuard,
	marker *cache.AlertMarker,
	fetchers []platform.Fetcher,
	earnings EarningsSource,
	notifier Notifier,
	payout PayoutTrigger,
	errs *apperrors.Handler,
	log *slog.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		users:    users,
		rigs:     rigs,
		settings: settings,
		payouts:  payouts,
		mirror:   mirror,
		guard:    guard,
		marker:   marker,
		fetchers: fetchers,
		earnings: earnings,
		notifier: notifier,
		payout:   payout,
		errs:     errs,
		log:      log,
		now:      time.Now,
	}
}

// RunCycle executes one reconciliation cycle. Per-user work runs on a
// bounded worker pool; a failure for one user never stops the others. The
// terminal state is simply "all passes attempted" — there is no cycle-level
// rollback.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := e.now()

	if e.guard != nil {
		acquired, err := e.guard.Acquire(ctx, e.cfg.Interval)
		if err != nil {
			e.handleErr(ctx, err)
		} else if !acquired {
			e.log.Warn("previous cycle still running, skipping")
			metrics.RecordCycle("skipped", 0)
			return nil
		}
		defer func() {
			if err := e.guard.Release(context.WithoutCancel(ctx)); err != nil {
				e.handleErr(ctx, err)
			}
		}()
	}

	if e.cfg.Interval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Interval)
		defer cancel()
	}

	uids, err := e.users.ListIDs(ctx)
	if err != nil {
		e.handleErr(ctx, err)
		metrics.RecordCycle("failed", e.now().Sub(start))
		return err
	}

	e.log.Info("reconciliation cycle starting", slog.Int("users", len(uids)))

	sem := make(chan struct{}, e.cfg.Workers)
	done := make(chan struct{})
	var workers gosync.WaitGroup
	go func() {
		defer close(done)
		for _, uid := range uids {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}

			workers.Add(1)
			go func(uid string) {
				defer workers.Done()
				defer func() { <-sem }()
				e.syncUser(ctx, uid)
			}(uid)
		}
	}()

	<-done
	// in-flight users must finish before the guard is released, even when
	// the deadline already fired: overlapping cycles are never allowed
	workers.Wait()

	elapsed := e.now().Sub(start)
	outcome := "ok"
	if ctx.Err() != nil {
		outcome = "deadline"
		e.log.Warn("cycle hit deadline, remaining work canceled", slog.Duration("elapsed", elapsed))
	}
	metrics.RecordCycle(outcome, elapsed)
	e.log.Info("reconciliation cycle finished", slog.Duration("elapsed", elapsed), slog.String("outcome", outcome))

	return nil
}

// syncUser runs the full per-user pipeline: collect, union, tombstone
// filter, persist, failsafe sweep, live refresh, offline alerts, payout.
// Every pass catches its own errors at the narrowest scope.
func (e *Engine) syncUser(ctx context.Context, uid string) {
	log := e.log.With(slog.String("uid", uid))

	creds, err := e.settings.GetCredentials(ctx, uid)
	if err != nil {
		e.handleErr(ctx, err)
		return
	}

	tombstones, err := e.tombstoneSet(ctx, uid)
	if err != nil {
		e.handleErr(ctx, err)
		return
	}

	candidates := e.collect(ctx, uid, creds)
	merged := e.union(candidates)

	filtered := make([]domain.Rig, 0, len(merged))
	for _, rig := range merged {
		if _, gone := tombstones[domain.NormalizeRigID(rig.ID)]; gone {
			continue
		}
		filtered = append(filtered, rig)
	}

	persisted := e.persist(ctx, uid, filtered, log)
	e.sweepTombstones(ctx, uid, tombstones)
	e.liveRefresh(ctx, uid, creds, candidates, tombstones, log)
	e.alertOffline(ctx, uid, log)
	e.runPayout(ctx, uid, creds, log)

	metrics.RecordRigsSynced(uid, persisted)
}

// fetchResult carries one adapter's outcome for the union pass.
type fetchResult struct {
	platform domain.Platform
	rigs     []domain.Rig
	err      error
}

// collect runs all configured adapters concurrently. Each call is
// independent: a failure yields zero rigs from that adapter and is recorded,
// not propagated.
func (e *Engine) collect(ctx context.Context, uid string, creds domain.Credentials) map[domain.Platform]fetchResult {
	results := make(chan fetchResult, len(e.fetchers))
	launched := 0

	for _, fetcher := range e.fetchers {
		if !fetcher.Configured(creds) {
			continue
		}
		launched++

		go func(f platform.Fetcher) {
			rigs, err := f.FetchRigs(ctx, creds)
			results <- fetchResult{platform: f.Platform(), rigs: rigs, err: err}
		}(fetcher)
	}

	collected := make(map[domain.Platform]fetchResult, launched)
	for i := 0; i < launched; i++ {
		res := <-results
		collected[res.platform] = res

		if res.err != nil {
			metrics.RecordPlatformFetch(string(res.platform), "error")
			e.handleErr(ctx, res.err)
			e.log.Warn("platform fetch failed",
				slog.String("uid", uid),
				slog.String("platform", string(res.platform)),
				slog.Any("error", res.err),
			)
			continue
		}
		metrics.RecordPlatformFetch(string(res.platform), "ok")
	}

	return collected
}

// unionPrecedence orders sources from lowest to highest priority. When two
// platforms report the same rig id the higher-priority record wins and the
// lower one fills whatever fields the winner left empty. HiveOS carries the
// richest telemetry, Ethermine the thinnest.
var unionPrecedence = []domain.Platform{
	domain.PlatformEthermine,
	domain.PlatformNiceHash,
	domain.PlatformHiveOS,
}

func (e *Engine) union(candidates map[domain.Platform]fetchResult) []domain.Rig {
	byID := make(map[string]domain.Rig)
	var order []string

	for _, platformName := range unionPrecedence {
		res, ok := candidates[platformName]
		if !ok || res.err != nil {
			continue
		}

		for _, rig := range res.rigs {
			key := domain.NormalizeRigID(rig.ID)
			if key == "" {
				continue
			}

			if existing, seen := byID[key]; seen {
				byID[key] = existing.Merge(rig)
				continue
			}

			byID[key] = rig
			order = append(order, key)
		}
	}

	sort.Strings(order)

	merged := make([]domain.Rig, 0, len(byID))
	for _, key := range order {
		merged = append(merged, byID[key])
	}

	return merged
}

// persist upserts every surviving rig and replaces the user's cache blob.
// A failed rig write skips that rig; the rest of the set still lands.
func (e *Engine) persist(ctx context.Context, uid string, rigs []domain.Rig, log *slog.Logger) int {
	persisted := 0
	for _, rig := range rigs {
		rig := rig
		err := apperrors.WithRetry(ctx, func() error {
			return e.rigs.Upsert(ctx, uid, rig)
		})
		if err != nil {
			e.handleErr(ctx, err)
			log.Error("failed to persist rig", slog.String("rig_id", rig.ID), slog.Any("error", err))
			continue
		}
		persisted++
	}

	if err := e.mirror.Put(ctx, uid, rigs); err != nil {
		e.handleErr(ctx, apperrors.NewStorageError(err))
	}

	return persisted
}

// sweepTombstones issues a delete for every tombstoned id even when no
// candidate referenced it, catching resurrections a previous cycle missed.
func (e *Engine) sweepTombstones(ctx context.Context, uid string, tombstones map[string]struct{}) {
	for rigID := range tombstones {
		if err := e.rigs.Delete(ctx, uid, rigID); err != nil {
			e.handleErr(ctx, err)
		}
	}
}

// liveRefresh walks every stored rig, not just this cycle's candidates.
// Rigs whose platform fetch failed this cycle get fetchError set and keep
// their last good telemetry; a successful fetch already cleared it during
// persist. Manual rigs have no upstream and are skipped.
func (e *Engine) liveRefresh(
	ctx context.Context,
	uid string,
	creds domain.Credentials,
	candidates map[domain.Platform]fetchResult,
	tombstones map[string]struct{},
	log *slog.Logger,
) {
	stored, err := e.rigs.List(ctx, uid)
	if err != nil {
		e.handleErr(ctx, err)
		return
	}

	for _, rig := range stored {
		if rig.Platform == domain.PlatformManual {
			continue
		}
		if _, gone := tombstones[domain.NormalizeRigID(rig.ID)]; gone {
			continue
		}

		res, fetched := candidates[rig.Platform]
		if !fetched {
			continue
		}
		if res.err == nil {
			continue
		}

		refreshed := rig
		refreshed.FetchError = res.err.Error()
		if err := e.rigs.Upsert(ctx, uid, refreshed); err != nil {
			e.handleErr(ctx, err)
			log.Error("failed to record fetch error", slog.String("rig_id", rig.ID), slog.Any("error", err))
		}
	}
}

// alertOffline notifies for every stored rig that has been offline longer
// than the threshold, throttled by the per-rig watermark. A zero re-alert
// interval reproduces the alert-every-cycle behavior.
func (e *Engine) alertOffline(ctx context.Context, uid string, log *slog.Logger) {
	stored, err := e.rigs.List(ctx, uid)
	if err != nil {
		e.handleErr(ctx, err)
		return
	}

	now := e.now()
	for _, rig := range stored {
		if rig.Status != domain.StatusOffline || rig.LastSeen.IsZero() {
			continue
		}

		offlineFor := now.Sub(rig.LastSeen)
		if offlineFor <= e.cfg.OfflineThreshold {
			continue
		}

		if e.cfg.RealertInterval > 0 {
			lastAlerted, err := e.marker.LastAlerted(ctx, uid, rig.ID)
			if err != nil {
				e.handleErr(ctx, err)
			} else if !lastAlerted.IsZero() && now.Sub(lastAlerted) < e.cfg.RealertInterval {
				continue
			}
		}

		if err := e.notifier.NotifyOffline(ctx, uid, rig, offlineFor); err != nil {
			e.handleErr(ctx, err)
			log.Error("failed to send offline alert", slog.String("rig_id", rig.ID), slog.Any("error", err))
			continue
		}

		metrics.RecordAlert(domain.AlertTypeOffline)
		if err := e.marker.MarkAlerted(ctx, uid, rig.ID, now); err != nil {
			e.handleErr(ctx, err)
		}
	}
}

// runPayout compares fetched earnings against the user's threshold and
// drives the payout engine. On success exactly one history record and one
// success alert are written; on failure exactly one error alert, never both.
func (e *Engine) runPayout(ctx context.Context, uid string, creds domain.Credentials, log *slog.Logger) {
	settings, err := e.settings.GetPayoutSettings(ctx, uid)
	if err != nil {
		e.handleErr(ctx, err)
		return
	}

	if settings.Threshold <= 0 || settings.PayoutAddress == "" {
		return
	}
	if e.earnings == nil || !creds.HasNiceHash() {
		return
	}

	earnings, err := e.earnings.FetchEarnings(ctx, creds)
	if err != nil {
		e.handleErr(ctx, err)
		e.notifyPayout(ctx, uid, "Auto payout error for user "+uid+": "+err.Error(), log)
		return
	}

	if earnings < settings.Threshold {
		return
	}

	txRef, err := e.payout.TriggerPayout(ctx, settings.Provider, settings.APIKey, settings.PayoutAddress, earnings)
	if err != nil {
		metrics.RecordPayout(string(settings.Provider), "failed")
		e.handleErr(ctx, err)
		e.notifyPayout(ctx, uid, "Auto payout error for user "+uid+": "+err.Error(), log)
		return
	}

	metrics.RecordPayout(string(settings.Provider), "success")

	record := domain.PayoutRecord{
		ID:             domain.NewPayoutID(e.now()),
		Timestamp:      e.now().UTC(),
		Amount:         earnings,
		Address:        settings.PayoutAddress,
		Provider:       settings.Provider,
		Status:         domain.PayoutSuccess,
		TransactionRef: txRef,
	}
	if err := e.payouts.Append(ctx, uid, record); err != nil {
		e.handleErr(ctx, err)
		log.Error("failed to record payout", slog.String("payout_id", record.ID), slog.Any("error", err))
	}

	e.notifyPayout(ctx, uid,
		"Auto payout triggered for user "+uid+": "+
			formatAmount(earnings)+" BTC sent to "+settings.PayoutAddress+
			" via "+string(settings.Provider),
		log,
	)
}

func (e *Engine) notifyPayout(ctx context.Context, uid, message string, log *slog.Logger) {
	if err := e.notifier.NotifyPayout(ctx, uid, message); err != nil {
		e.handleErr(ctx, err)
		log.Error("failed to send payout alert", slog.Any("error", err))
		return
	}
	metrics.RecordAlert(domain.AlertTypePayout)
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func (e *Engine) tombstoneSet(ctx context.Context, uid string) (map[string]struct{}, error) {
	ids, err := e.settings.ListTombstones(ctx, uid)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[domain.NormalizeRigID(id)] = struct{}{}
	}

	return set, nil
}

func (e *Engine) handleErr(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if e.errs != nil {
		e.errs.Handle(ctx, err)
		return
	}
	e.log.Error("cycle error", slog.Any("error", err))
}
