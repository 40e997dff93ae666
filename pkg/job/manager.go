package job

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jbrannan/flowgate/internal/logger"
	"github.com/jbrannan/flowgate/pkg/downloader"
	"github.com/jbrannan/flowgate/pkg/ferr"
	"github.com/jbrannan/flowgate/pkg/gateway"
	"github.com/jbrannan/flowgate/pkg/metrics"
	"github.com/jbrannan/flowgate/pkg/persistence"
	"github.com/jbrannan/flowgate/pkg/queue"
	"github.com/jbrannan/flowgate/pkg/storageprobe"
)

// Manager owns every Job's state machine (spec §4.2). It mediates
// Persistence, the Debrid Gateway, the Scheduler and the Downloader, and
// is the only component that mutates a Record.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Record

	store   *persistence.Store[*Record]
	gateway gateway.Client
	dl      downloader.Downloader
	sched   *queue.Scheduler
	profile storageprobe.Profile
	metrics *metrics.Metrics

	queuedFIFO *list.List // of info_hash, waiting for a submission slot
	knownTags  map[string]struct{}

	reconcileInterval string

	notify chan struct{}

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Manager. profile is probed once against the configured
// download root (spec §4.1 — one tuning profile per machine/volume).
func New(store *persistence.Store[*Record], gw gateway.Client, dl downloader.Downloader, profile storageprobe.Profile) *Manager {
	m := &Manager{
		jobs:              make(map[string]*Record),
		store:             store,
		gateway:           gw,
		dl:                dl,
		sched:             queue.NewScheduler(profile),
		profile:           profile,
		queuedFIFO:        list.New(),
		knownTags:         make(map[string]struct{}),
		reconcileInterval: defaultReconcileInterval,
		notify:            make(chan struct{}, 1),
	}
	return m
}

// SetReconcileInterval overrides how often the reconciliation sweep
// (periodic GetTorrents cross-check, see workers.go) runs. Accepts anything
// internal/schedule.ParseInterval understands: a Go duration, a standard
// cron expression, or a daily clock time. Optional: a Manager that never
// calls this uses defaultReconcileInterval.
func (m *Manager) SetReconcileInterval(interval string) {
	m.reconcileInterval = interval
}

// Start loads persisted jobs, applies the restart-rewind rule (spec §4.6),
// and launches the admission loop. ctx governs the Manager's lifetime.
func (m *Manager) Start(ctx context.Context) {
	m.rootCtx, m.cancel = context.WithCancel(ctx)

	for hash, r := range m.store.Iter() {
		switch r.State {
		case StateDownloading:
			r.State = StateDebridReady
		case StateDebridPending:
			r.State = StateDebridPending
		}
		m.jobs[hash] = r
	}

	for hash, r := range m.jobs {
		switch r.State {
		case StateQueued:
			m.queuedFIFO.PushBack(hash)
		case StateDebridPending:
			m.startPoller(r)
		case StateDebridReady:
			m.sched.EnqueueReady(hash, m.sched.ClassFor(r.SizeTotal))
		}
	}

	m.wg.Add(1)
	go m.admissionLoop()

	m.wg.Add(1)
	go m.reconcileLoop()

	m.wake()
}

// Shutdown cancels all running workers and waits for them to exit. The wait
// has no timeout.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// SetMetrics attaches a metrics sink. Optional: callers that don't wire
// pkg/metrics get a Manager with every metrics.* call skipped.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// Add creates a new Job, or returns the existing one if info_hash is
// already tracked (spec §3 invariant: re-adding is idempotent).
func (m *Manager) Add(hash, source string, sourceBytes []byte, displayName, category, savePath string) (*Record, error) {
	m.mu.Lock()
	if existing, ok := m.jobs[hash]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	r := newRecord(hash, source, sourceBytes, displayName, category, savePath)
	m.jobs[hash] = r
	m.mu.Unlock()

	if err := m.store.Put(hash, r); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.queuedFIFO.PushBack(hash)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.JobsAdded.Inc()
	}
	m.wake()
	return r, nil
}

// Get returns the job for hash, if tracked.
func (m *Manager) Get(hash string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.jobs[hash]
	return r, ok
}

// List returns a snapshot of all tracked jobs.
func (m *Manager) List() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.jobs))
	for _, r := range m.jobs {
		out = append(out, r)
	}
	return out
}

// AddTags appends tags (deduped, trimmed, empty entries skipped) to the
// Record identified by hash, reported thereafter by its View (SPEC_FULL.md
// §6 supplement, qBittorrent's addTags surface named by §3).
func (m *Manager) AddTags(hash string, tags []string) error {
	r, ok := m.Get(hash)
	if !ok {
		return fmt.Errorf("job %s not found", hash)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !containsTag(r.Tags, t) {
			r.Tags = append(r.Tags, t)
		}
	}
	return nil
}

// RemoveTags removes tags from the Record identified by hash (qBittorrent's
// removeTags surface named by SPEC_FULL.md §3).
func (m *Manager) RemoveTags(hash string, tags []string) error {
	r, ok := m.Get(hash)
	if !ok {
		return fmt.Errorf("job %s not found", hash)
	}
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[strings.TrimSpace(t)] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.Tags[:0]
	for _, t := range r.Tags {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	r.Tags = kept
	return nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CreateTags registers tags in the Manager's known-tag set, independent of
// any Record — qBittorrent's createTags lets a client pre-declare a tag
// before assigning it to a torrent (SPEC_FULL.md §6 supplement).
func (m *Manager) CreateTags(tags []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		m.knownTags[t] = struct{}{}
	}
}

// Tags returns every known tag, sorted (SPEC_FULL.md §6 supplement's
// GET /torrents/tags).
func (m *Manager) Tags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.knownTags))
	for t := range m.knownTags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Profile passes through the Debrid Gateway's account/premium-expiry info,
// surfaced read-only by the API adapter's debug routes (SPEC_FULL.md §4.3
// supplement) — never consulted by the state machine itself.
func (m *Manager) Profile(ctx context.Context) (gateway.Profile, error) {
	return m.gateway.GetProfile(ctx)
}

// Delete cancels any in-flight work for hash and removes the job. If
// alsoFiles is set, the save path's files are removed too.
func (m *Manager) Delete(hash string, alsoFiles bool) error {
	m.mu.Lock()
	r, ok := m.jobs[hash]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %s not found", hash)
	}
	delete(m.jobs, hash)
	m.mu.Unlock()

	r.mu.Lock()
	class := m.sched.ClassFor(r.SizeTotal)
	state := r.State
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	m.removeFromQueues(hash, class, state)
	if err := m.gateway.Delete(m.rootCtxOrBackground(), r.DebridID); err != nil {
		logger.Default().Warn().Err(err).Str("hash", hash).Msg("job: gateway delete failed, continuing")
	}
	if err := m.store.Delete(hash); err != nil {
		return err
	}
	if alsoFiles {
		for _, f := range r.Files {
			_ = os.Remove(filepath.Join(r.SavePath, f.Name))
		}
	}
	m.wake()
	return nil
}

func (m *Manager) removeFromQueues(hash string, class queue.SizeClass, state State) {
	m.mu.Lock()
	for e := m.queuedFIFO.Front(); e != nil; e = e.Next() {
		if e.Value.(string) == hash {
			m.queuedFIFO.Remove(e)
			break
		}
	}
	m.mu.Unlock()
	switch state {
	case StateDebridReady:
		m.sched.RemoveReady(hash, class)
	case StateDebridPending:
		m.sched.ReleasePending()
	case StateDownloading:
		m.sched.ReleaseRun(hash, class)
	}
}

// Pause stops a running job's worker and parks it, keeping the partial
// file. Resume re-enters via the scheduler from the prior state.
func (m *Manager) Pause(hash string) error {
	r, ok := m.Get(hash)
	if !ok {
		return fmt.Errorf("job %s not found", hash)
	}
	r.mu.Lock()
	switch r.State {
	case StateDownloading, StateDebridPending, StateDebridReady, StateQueued:
	default:
		r.mu.Unlock()
		return fmt.Errorf("job %s is not running", hash)
	}
	prior := r.State
	class := m.sched.ClassFor(r.SizeTotal)
	if r.cancel != nil {
		r.cancel()
	}
	r.PriorState = prior
	r.State = StatePaused
	r.mu.Unlock()

	m.removeFromQueues(hash, class, prior)
	_ = m.store.Put(hash, r)
	m.wake()
	return nil
}

// Resume re-queues a paused job into its prior state's admission path.
func (m *Manager) Resume(hash string) error {
	r, ok := m.Get(hash)
	if !ok {
		return fmt.Errorf("job %s not found", hash)
	}
	r.mu.Lock()
	if r.State != StatePaused {
		r.mu.Unlock()
		return fmt.Errorf("job %s is not paused", hash)
	}
	prior := r.PriorState
	if prior == "" {
		prior = StateQueued
	}
	r.State = prior
	r.mu.Unlock()
	_ = m.store.Put(hash, r)

	switch prior {
	case StateQueued:
		m.mu.Lock()
		m.queuedFIFO.PushBack(hash)
		m.mu.Unlock()
	case StateDebridPending:
		m.startPoller(r)
	case StateDebridReady:
		m.sched.EnqueueReady(hash, m.sched.ClassFor(r.SizeTotal))
	}
	m.wake()
	return nil
}

func (m *Manager) rootCtxOrBackground() context.Context {
	if m.rootCtx != nil {
		return m.rootCtx
	}
	return context.Background()
}

// errTransient reports whether err should be retried under backoff rather
// than terminating the job (spec §4.2).
func errTransient(err error) bool {
	if err == nil {
		return false
	}
	return ferr.KindOf(err).Transient()
}
