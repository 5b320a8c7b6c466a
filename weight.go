package sitekeeper

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTargetWeightKg is rendered as the goal line when no target weight
// is configured.
const DefaultTargetWeightKg = 55.0

// Snapshot is the payload published to weight.json. Field names match what
// the page's chart expects.
type Snapshot struct {
	Source          string  `json:"source"`
	WeightKg        float64 `json:"weightKg"`
	TargetWeightKg  float64 `json:"targetWeightKg"`
	InitialWeightKg float64 `json:"initialWeightKg"`
	MeasuredAt      *string `json:"measuredAt"`
	UpdatedAt       string  `json:"updatedAt"`
	Status          string  `json:"status"`
}

// WeightUpdater refreshes the published weight snapshot from the Eufy API.
// On any fetch failure the previously published file is left untouched, so
// the page keeps showing the last good value.
type WeightUpdater struct {
	// OutPath is where the snapshot JSON is written.
	OutPath string

	// TargetKg is the goal weight rendered alongside the measurement.
	TargetKg float64

	// PreviousURL, when set, is where the last published snapshot is
	// fetched from before updating. CI runs start from a fresh checkout
	// with no local file, so without this the sticky initialWeightKg
	// would re-seed from the current measurement on every run.
	PreviousURL string

	eufy   *EufyClient
	client *http.Client
	now    func() time.Time
	log    *zap.SugaredLogger

	mu     sync.Mutex
	latest Snapshot
	have   bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWeightUpdater returns an updater that fetches through eufy and writes
// to outPath.
func NewWeightUpdater(eufy *EufyClient, outPath string, options ...func(*WeightUpdater)) (*WeightUpdater, error) {
	if eufy == nil {
		return nil, errors.New("an Eufy client must be specified")
	}
	if outPath == "" {
		return nil, errors.New("an output path must be specified")
	}
	u := &WeightUpdater{
		OutPath:  outPath,
		TargetKg: DefaultTargetWeightKg,
		eufy:     eufy,
		client:   initHTTPClient(20 * time.Second),
		now:      time.Now,
		log:      zap.NewNop().Sugar(),
		stop:     make(chan struct{}),
	}
	for _, o := range options {
		o(u)
	}
	return u, nil
}

// WithUpdaterLogger sets the *zap.SugaredLogger the updater uses. Without
// it, a no-op log is used.
func WithUpdaterLogger(logger *zap.SugaredLogger) func(*WeightUpdater) {
	return func(u *WeightUpdater) {
		u.log = logger
	}
}

// WithTargetWeight sets the goal weight in kilograms.
func WithTargetWeight(kg float64) func(*WeightUpdater) {
	return func(u *WeightUpdater) {
		u.TargetKg = kg
	}
}

// WithPreviousWeightURL sets the URL of the last published snapshot, used
// to seed initialWeightKg when no local snapshot file exists yet.
func WithPreviousWeightURL(url string) func(*WeightUpdater) {
	return func(u *WeightUpdater) {
		u.PreviousURL = url
	}
}

// WithClock overrides the updater's time source, for tests.
func WithClock(now func() time.Time) func(*WeightUpdater) {
	return func(u *WeightUpdater) {
		u.now = now
	}
}

// Update fetches the newest measurement and rewrites the snapshot file.
// When the fetch or the write fails, the file on disk is not modified and
// the error is returned.
func (u *WeightUpdater) Update() (Snapshot, error) {
	m, err := u.eufy.LatestMeasurement()
	if err != nil {
		return Snapshot{}, err
	}

	// initialWeightKg is sticky: it is seeded by the first successful
	// fetch and carried forward from then on.
	initial := round1(m.WeightKg)
	if prev, ok := u.previousSnapshot(); ok && prev.InitialWeightKg > 0 {
		initial = prev.InitialWeightKg
	}

	snap := Snapshot{
		Source:          "eufy",
		WeightKg:        round1(m.WeightKg),
		TargetWeightKg:  round1(u.TargetKg),
		InitialWeightKg: initial,
		UpdatedAt:       u.now().UTC().Format(time.RFC3339),
		Status:          "ok",
	}
	if !m.MeasuredAt.IsZero() {
		at := m.MeasuredAt.UTC().Format(time.RFC3339)
		snap.MeasuredAt = &at
	}

	if err := writeJSONFile(u.OutPath, snap); err != nil {
		return Snapshot{}, err
	}
	u.mu.Lock()
	u.latest, u.have = snap, true
	u.mu.Unlock()
	u.log.Infow("wrote weight snapshot",
		"out", u.OutPath,
		"weight_kg", snap.WeightKg,
		"measured_at", m.MeasuredAt)
	return snap, nil
}

// Watch runs Update immediately and then on every interval tick until Stop
// is called. Failed updates are logged and skipped; the published file
// keeps its last good value.
func (u *WeightUpdater) Watch(interval time.Duration) {
	u.log.Infow("watching weight",
		"out", u.OutPath,
		"target_kg", u.TargetKg,
		"poll_interval", interval)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := u.Update(); err != nil {
			u.log.Errorw("error refreshing weight snapshot",
				"out", u.OutPath,
				"err", err.Error())
		}
		select {
		case <-t.C:
		case <-u.stop:
			return
		}
	}
}

// Stop ends a running Watch loop.
func (u *WeightUpdater) Stop() {
	u.stopOnce.Do(func() { close(u.stop) })
}

// Latest returns the most recent snapshot written by this process, and
// whether one exists yet.
func (u *WeightUpdater) Latest() (Snapshot, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.latest, u.have
}

// previousSnapshot resolves the last published snapshot: the local file if
// one exists, otherwise the published URL when configured. Any failure
// counts as no previous snapshot, matching readSnapshot.
func (u *WeightUpdater) previousSnapshot() (Snapshot, bool) {
	if snap, ok := readSnapshot(u.OutPath); ok {
		return snap, true
	}
	if u.PreviousURL == "" {
		return Snapshot{}, false
	}
	resp, err := u.client.Get(u.PreviousURL)
	if err != nil {
		u.log.Warnw("could not fetch previous snapshot",
			"url", u.PreviousURL,
			"err", err.Error())
		return Snapshot{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		u.log.Warnw("could not fetch previous snapshot",
			"url", u.PreviousURL,
			"status", resp.Status)
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := decodeResponse(resp.Body, &snap); err != nil {
		u.log.Warnw("previous snapshot is not valid JSON",
			"url", u.PreviousURL,
			"err", err.Error())
		return Snapshot{}, false
	}
	return snap, true
}

// readSnapshot loads the previously published snapshot. A missing,
// unreadable, or corrupt file counts as no previous snapshot rather than
// an error.
func readSnapshot(path string) (Snapshot, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
