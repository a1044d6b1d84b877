package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigwatch/rigwatch/internal/cache"
	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
	"github.com/rigwatch/rigwatch/internal/platform"
	"github.com/rigwatch/rigwatch/internal/repository"
	appredis "github.com/rigwatch/rigwatch/pkg/redis"
)

// --- in-memory doubles ---

type memUsers struct{ ids []string }

func (m *memUsers) Ensure(ctx context.Context, uid string) error { return nil }
func (m *memUsers) ListIDs(ctx context.Context) ([]string, error) {
	return append([]string(nil), m.ids...), nil
}

type memRigs struct {
	mu   gosync.Mutex
	docs map[string]map[string]domain.Rig
}

func newMemRigs() *memRigs { return &memRigs{docs: make(map[string]map[string]domain.Rig)} }

func (m *memRigs) Get(ctx context.Context, uid, rigID string) (*domain.Rig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rig, ok := m.docs[uid][domain.NormalizeRigID(rigID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rig, nil
}

func (m *memRigs) Upsert(ctx context.Context, uid string, rig domain.Rig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[uid] == nil {
		m.docs[uid] = make(map[string]domain.Rig)
	}
	key := domain.NormalizeRigID(rig.ID)
	merged := m.docs[uid][key].Merge(rig)
	merged.LastUpdated = time.Now().UTC()
	m.docs[uid][key] = merged
	return nil
}

func (m *memRigs) Delete(ctx context.Context, uid, rigID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[uid], domain.NormalizeRigID(rigID))
	return nil
}

func (m *memRigs) List(ctx context.Context, uid string) ([]domain.Rig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rigs := make([]domain.Rig, 0, len(m.docs[uid]))
	for _, rig := range m.docs[uid] {
		rigs = append(rigs, rig)
	}
	sort.Slice(rigs, func(i, j int) bool { return rigs[i].ID < rigs[j].ID })
	return rigs, nil
}

type memSettings struct {
	mu         gosync.Mutex
	creds      map[string]domain.Credentials
	tombstones map[string]map[string]struct{}
	payout     map[string]domain.PayoutSettings
	alerts     map[string]domain.AlertSettings
}

func newMemSettings() *memSettings {
	return &memSettings{
		creds:      make(map[string]domain.Credentials),
		tombstones: make(map[string]map[string]struct{}),
		payout:     make(map[string]domain.PayoutSettings),
		alerts:     make(map[string]domain.AlertSettings),
	}
}

func (m *memSettings) GetAlertSettings(ctx context.Context, uid string) (domain.AlertSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.alerts[uid]; ok {
		return s, nil
	}
	return domain.DefaultAlertSettings(), nil
}

func (m *memSettings) SetAlertSettings(ctx context.Context, uid string, s domain.AlertSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[uid] = s
	return nil
}

func (m *memSettings) GetPayoutSettings(ctx context.Context, uid string) (domain.PayoutSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.payout[uid]; ok {
		return s, nil
	}
	return domain.DefaultPayoutSettings(), nil
}

func (m *memSettings) SetPayoutSettings(ctx context.Context, uid string, s domain.PayoutSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payout[uid] = s
	return nil
}

func (m *memSettings) GetCredentials(ctx context.Context, uid string) (domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[uid], nil
}

func (m *memSettings) SetCredentials(ctx context.Context, uid string, c domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[uid] = c
	return nil
}

func (m *memSettings) AddTombstones(ctx context.Context, uid string, rigIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tombstones[uid] == nil {
		m.tombstones[uid] = make(map[string]struct{})
	}
	for _, id := range rigIDs {
		m.tombstones[uid][domain.NormalizeRigID(id)] = struct{}{}
	}
	return nil
}

func (m *memSettings) ListTombstones(ctx context.Context, uid string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tombstones[uid]))
	for id := range m.tombstones[uid] {
		ids = append(ids, id)
	}
	return ids, nil
}

type memPayouts struct {
	mu      gosync.Mutex
	records map[string][]domain.PayoutRecord
}

func newMemPayouts() *memPayouts { return &memPayouts{records: make(map[string][]domain.PayoutRecord)} }

func (m *memPayouts) Append(ctx context.Context, uid string, record domain.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[uid] = append(m.records[uid], record)
	return nil
}

func (m *memPayouts) List(ctx context.Context, uid string) ([]domain.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PayoutRecord(nil), m.records[uid]...), nil
}

type fakeFetcher struct {
	name domain.Platform
	rigs []domain.Rig
	err  error
}

func (f *fakeFetcher) Platform() domain.Platform                 { return f.name }
func (f *fakeFetcher) Configured(creds domain.Credentials) bool  { return true }
func (f *fakeFetcher) FetchRigs(ctx context.Context, creds domain.Credentials) ([]domain.Rig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Rig(nil), f.rigs...), nil
}

// slowFetcher blocks long enough for the cycle deadline to fire mid-fetch.
type slowFetcher struct {
	delay    time.Duration
	inFlight atomic.Int32
}

func (f *slowFetcher) Platform() domain.Platform                { return domain.PlatformNiceHash }
func (f *slowFetcher) Configured(creds domain.Credentials) bool { return true }
func (f *slowFetcher) FetchRigs(ctx context.Context, creds domain.Credentials) ([]domain.Rig, error) {
	f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	time.Sleep(f.delay)
	return nil, ctx.Err()
}

type recordingNotifier struct {
	mu        gosync.Mutex
	offline   []string
	durations []time.Duration
	payout    []string
}

func (n *recordingNotifier) NotifyOffline(ctx context.Context, uid string, rig domain.Rig, offlineFor time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = append(n.offline, uid+"/"+domain.NormalizeRigID(rig.ID))
	n.durations = append(n.durations, offlineFor)
	return nil
}

func (n *recordingNotifier) NotifyPayout(ctx context.Context, uid, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payout = append(n.payout, message)
	return nil
}

type fakePayout struct {
	mu     gosync.Mutex
	calls  []float64
	txRef  string
	err    error
}

func (p *fakePayout) TriggerPayout(ctx context.Context, provider domain.PayoutProvider, apiKey, address string, amount float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, amount)
	if p.err != nil {
		return "", p.err
	}
	return p.txRef, nil
}

type fakeEarnings struct{ amount float64 }

func (e *fakeEarnings) FetchEarnings(ctx context.Context, creds domain.Credentials) (float64, error) {
	return e.amount, nil
}

// --- harness ---

type harness struct {
	engine   *Engine
	users    *memUsers
	rigs     *memRigs
	settings *memSettings
	payouts  *memPayouts
	notifier *recordingNotifier
	payout   *fakePayout
	earnings *fakeEarnings
	redis    *appredis.Client
}

func newHarness(t *testing.T, cfg Config, uids []string, fetchers ...platform.Fetcher) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := appredis.New(context.Background(), appredis.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		users:    &memUsers{ids: uids},
		rigs:     newMemRigs(),
		settings: newMemSettings(),
		payouts:  newMemPayouts(),
		notifier: &recordingNotifier{},
		payout:   &fakePayout{txRef: "tx-1"},
		earnings: &fakeEarnings{},
		redis:    client,
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = NewEngine(
		cfg,
		h.users, h.rigs, h.settings, h.payouts,
		cache.NewMirror(client),
		cache.NewCycleGuard(client),
		cache.NewAlertMarker(client),
		fetchers,
		h.earnings,
		h.notifier,
		h.payout,
		nil,
		log,
	)

	return h
}

// --- tests ---

func TestRunCycle_TombstonedRigsNeverResurrect(t *testing.T) {
	fetcher := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "RIG-ABC", Name: "deleted one", Platform: domain.PlatformNiceHash, Status: domain.StatusOnline},
		{ID: "rig-keep", Name: "survivor", Platform: domain.PlatformNiceHash, Status: domain.StatusOnline},
	}}

	h := newHarness(t, Config{}, []string{"u1"}, fetcher)
	require.NoError(t, h.settings.AddTombstones(context.Background(), "u1", "rig-abc"))

	require.NoError(t, h.engine.RunCycle(context.Background()))

	stored, err := h.rigs.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "rig-keep", stored[0].ID)

	cached, err := cache.NewMirror(h.redis).Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "rig-keep", cached[0].ID)
}

func TestRunCycle_UnionMergesByIDWithSourcePriority(t *testing.T) {
	hive := &fakeFetcher{name: domain.PlatformHiveOS, rigs: []domain.Rig{
		{ID: "rig-x", Name: "hive name", Platform: domain.PlatformHiveOS, Status: domain.StatusOnline, Hashrate: 300, Temperature: domain.Float64Ptr(66)},
	}}
	nice := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "RIG-X", Name: "nice name", Platform: domain.PlatformNiceHash, Status: domain.StatusOnline, Hashrate: 120, Pool: "stratum.example:3353"},
	}}

	h := newHarness(t, Config{}, []string{"u1"}, nice, hive)
	require.NoError(t, h.engine.RunCycle(context.Background()))

	stored, err := h.rigs.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	rig := stored[0]
	assert.Equal(t, domain.PlatformHiveOS, rig.Platform)
	assert.Equal(t, "hive name", rig.Name)
	assert.Equal(t, 300.0, rig.Hashrate)
	// the lower-priority source still fills fields the winner left empty
	assert.Equal(t, "stratum.example:3353", rig.Pool)
}

func TestRunCycle_PartialFailureIsolatesAdaptersAndUsers(t *testing.T) {
	hive := &fakeFetcher{name: domain.PlatformHiveOS, err: apperrors.NewUpstreamError("hiveos", 502, nil)}
	nice := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "nh-1", Name: "still here", Platform: domain.PlatformNiceHash, Status: domain.StatusOnline},
	}}

	h := newHarness(t, Config{}, []string{"u1", "u2"}, hive, nice)

	// u1 already tracks a HiveOS rig from a previous cycle
	require.NoError(t, h.rigs.Upsert(context.Background(), "u1", domain.Rig{
		ID: "hive-old", Name: "flaky", Platform: domain.PlatformHiveOS, Status: domain.StatusOnline,
	}))

	require.NoError(t, h.engine.RunCycle(context.Background()))

	for _, uid := range []string{"u1", "u2"} {
		stored, err := h.rigs.List(context.Background(), uid)
		require.NoError(t, err)

		var ids []string
		for _, rig := range stored {
			ids = append(ids, rig.ID)
		}
		assert.Contains(t, ids, "nh-1", "uid %s", uid)
	}

	// the unreachable platform's stored rig keeps its data but carries the error
	flaky, err := h.rigs.Get(context.Background(), "u1", "hive-old")
	require.NoError(t, err)
	assert.Equal(t, "flaky", flaky.Name)
	assert.NotEmpty(t, flaky.FetchError)
}

func TestRunCycle_Idempotence(t *testing.T) {
	fetcher := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "rig-1", Name: "steady", Platform: domain.PlatformNiceHash, Status: domain.StatusOnline, Hashrate: 100,
			LastSeen: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}}

	h := newHarness(t, Config{}, []string{"u1"}, fetcher)

	require.NoError(t, h.engine.RunCycle(context.Background()))
	first, err := h.rigs.List(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, h.engine.RunCycle(context.Background()))
	second, err := h.rigs.List(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		a, b := first[i], second[i]
		a.LastUpdated, b.LastUpdated = time.Time{}, time.Time{}
		assert.Equal(t, a, b)
	}
}

func TestRunCycle_OfflineAlertThreshold(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "rig-old", Platform: domain.PlatformNiceHash, Status: domain.StatusOffline, LastSeen: now.Add(-11 * time.Minute)},
		{ID: "rig-fresh", Platform: domain.PlatformNiceHash, Status: domain.StatusOffline, LastSeen: now.Add(-9 * time.Minute)},
	}}

	h := newHarness(t, Config{OfflineThreshold: 10 * time.Minute}, []string{"u1"}, fetcher)
	h.engine.now = func() time.Time { return now }

	require.NoError(t, h.engine.RunCycle(context.Background()))

	assert.Equal(t, []string{"u1/rig-old"}, h.notifier.offline)
	// the alert carries how long the rig has actually been gone, not the
	// configured threshold
	assert.Equal(t, []time.Duration{11 * time.Minute}, h.notifier.durations)
}

func TestRunCycle_RealertIntervalThrottlesRepeats(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "rig-down", Platform: domain.PlatformNiceHash, Status: domain.StatusOffline, LastSeen: now.Add(-30 * time.Minute)},
	}}

	h := newHarness(t, Config{OfflineThreshold: 10 * time.Minute, RealertInterval: time.Hour}, []string{"u1"}, fetcher)
	h.engine.now = func() time.Time { return now }

	require.NoError(t, h.engine.RunCycle(context.Background()))
	require.NoError(t, h.engine.RunCycle(context.Background()))
	assert.Len(t, h.notifier.offline, 1)

	// zero interval restores alert-every-cycle
	h2 := newHarness(t, Config{OfflineThreshold: 10 * time.Minute}, []string{"u1"}, fetcher)
	h2.engine.now = func() time.Time { return now }
	require.NoError(t, h2.engine.RunCycle(context.Background()))
	require.NoError(t, h2.engine.RunCycle(context.Background()))
	assert.Len(t, h2.notifier.offline, 2)
}

func TestRunCycle_PayoutAboveThreshold(t *testing.T) {
	h := newHarness(t, Config{}, []string{"u1"})
	ctx := context.Background()

	require.NoError(t, h.settings.SetCredentials(ctx, "u1", domain.Credentials{
		NiceHashAPIKey: "k", NiceHashAPISecret: "s", NiceHashOrgID: "o",
	}))
	require.NoError(t, h.settings.SetPayoutSettings(ctx, "u1", domain.PayoutSettings{
		Provider: domain.ProviderNowPayments, APIKey: "np", PayoutAddress: "bc1qaddr", Threshold: 0.01,
	}))
	h.earnings.amount = 0.015

	require.NoError(t, h.engine.RunCycle(ctx))

	require.Len(t, h.payout.calls, 1)
	assert.Equal(t, 0.015, h.payout.calls[0])

	records, err := h.payouts.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.PayoutSuccess, records[0].Status)
	assert.Equal(t, "tx-1", records[0].TransactionRef)
	assert.Equal(t, "bc1qaddr", records[0].Address)

	assert.Len(t, h.notifier.payout, 1)
}

func TestRunCycle_PayoutBelowThresholdDoesNothing(t *testing.T) {
	h := newHarness(t, Config{}, []string{"u1"})
	ctx := context.Background()

	require.NoError(t, h.settings.SetCredentials(ctx, "u1", domain.Credentials{
		NiceHashAPIKey: "k", NiceHashAPISecret: "s", NiceHashOrgID: "o",
	}))
	require.NoError(t, h.settings.SetPayoutSettings(ctx, "u1", domain.PayoutSettings{
		Provider: domain.ProviderNowPayments, PayoutAddress: "bc1qaddr", Threshold: 0.01,
	}))
	h.earnings.amount = 0.005

	require.NoError(t, h.engine.RunCycle(ctx))

	assert.Empty(t, h.payout.calls)
	records, err := h.payouts.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, h.notifier.payout)
}

func TestRunCycle_PayoutFailureSendsErrorAlertOnly(t *testing.T) {
	h := newHarness(t, Config{}, []string{"u1"})
	ctx := context.Background()

	require.NoError(t, h.settings.SetCredentials(ctx, "u1", domain.Credentials{
		NiceHashAPIKey: "k", NiceHashAPISecret: "s", NiceHashOrgID: "o",
	}))
	require.NoError(t, h.settings.SetPayoutSettings(ctx, "u1", domain.PayoutSettings{
		Provider: domain.ProviderNowPayments, PayoutAddress: "bc1qaddr", Threshold: 0.01,
	}))
	h.earnings.amount = 0.02
	h.payout.err = errors.New("provider rejected")

	require.NoError(t, h.engine.RunCycle(ctx))

	records, err := h.payouts.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.Len(t, h.notifier.payout, 1)
	assert.Contains(t, h.notifier.payout[0], "error")
}

func TestRunCycle_GuardSkipsOverlappingCycle(t *testing.T) {
	fetcher := &fakeFetcher{name: domain.PlatformNiceHash, rigs: []domain.Rig{
		{ID: "rig-1", Platform: domain.PlatformNiceHash, Status: domain.StatusOnline},
	}}

	h := newHarness(t, Config{Interval: time.Minute}, []string{"u1"}, fetcher)

	guard := cache.NewCycleGuard(h.redis)
	acquired, err := guard.Acquire(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, h.engine.RunCycle(context.Background()))

	stored, err := h.rigs.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, stored, "a colliding cycle must not write anything")
}

func TestRunCycle_DeadlineWaitsForInFlightWork(t *testing.T) {
	fetcher := &slowFetcher{delay: 250 * time.Millisecond}

	uids := make([]string, 8)
	for i := range uids {
		uids[i] = fmt.Sprintf("u%d", i+1)
	}

	h := newHarness(t, Config{Interval: 100 * time.Millisecond, Workers: 2}, uids, fetcher)

	require.NoError(t, h.engine.RunCycle(context.Background()))

	// the guard is released when RunCycle returns, so any pipeline still
	// running here would overlap the next cycle
	assert.Zero(t, fetcher.inFlight.Load(), "per-user pipelines outlived the cycle")

	acquired, err := cache.NewCycleGuard(h.redis).Acquire(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "cycle lock should be free after RunCycle returns")
}
