package job

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/jbrannan/flowgate/internal/logger"
	"github.com/jbrannan/flowgate/internal/schedule"
	"github.com/jbrannan/flowgate/pkg/downloader"
	"github.com/jbrannan/flowgate/pkg/ferr"
	"github.com/jbrannan/flowgate/pkg/gateway"
	"github.com/jbrannan/flowgate/pkg/queue"
)

// persistThrottle is the §4.6 "writes during downloading are throttled"
// interval: at most one Put per second per job.
const persistThrottle = 1 * time.Second

// defaultReconcileInterval is how often reconcileLoop's sweep runs when the
// caller never overrides it via Manager.SetReconcileInterval.
const defaultReconcileInterval = "5m"

// admissionLoop is the Scheduler's only driver: it wakes on every
// add/completion/pause/resume/delete/error event (spec §4.4.4) and submits
// as many queued and debrid_ready jobs as current capacity allows.
func (m *Manager) admissionLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-m.notify:
			m.drainQueued()
			m.drainReady()
			if m.metrics != nil {
				m.metrics.ObserveScheduler(m.sched.Stats())
			}
		}
	}
}

// drainQueued submits queued jobs to the Gateway while the 16-outstanding
// submission cap allows.
func (m *Manager) drainQueued() {
	for {
		m.mu.Lock()
		if m.queuedFIFO.Len() == 0 {
			m.mu.Unlock()
			return
		}
		if !m.sched.AdmitPending() {
			m.mu.Unlock()
			return
		}
		e := m.queuedFIFO.Front()
		hash := e.Value.(string)
		m.queuedFIFO.Remove(e)
		r := m.jobs[hash]
		m.mu.Unlock()

		if r == nil {
			m.sched.ReleasePending()
			continue
		}
		m.wg.Add(1)
		go m.submitJob(r)
	}
}

// drainReady grants run slots to debrid_ready jobs while the tuning
// profile's concurrency limits and the large/small tie-break allow.
func (m *Manager) drainReady() {
	for {
		hash, class, ok := m.sched.TryAdmit()
		if !ok {
			return
		}
		m.mu.RLock()
		r := m.jobs[hash]
		m.mu.RUnlock()
		if r == nil {
			m.sched.ReleaseRun(hash, class)
			continue
		}
		m.wg.Add(1)
		go m.runDownload(r, class)
	}
}

// reconcileLoop runs a periodic bulk cross-check against the Gateway's own
// view of submitted torrents (GetTorrents), catching a debrid_pending job
// whose state the Gateway has already settled but whose own poller hasn't
// observed yet (spec's §4.3 supplement: "a periodic reconciliation sweep
// that catches jobs the debrid side completed/errored between polls").
func (m *Manager) reconcileLoop() {
	defer m.wg.Done()
	log := logger.Default()

	jd, err := schedule.ParseInterval(m.reconcileInterval)
	if err != nil {
		log.Error().Err(err).Str("interval", m.reconcileInterval).Msg("job: invalid reconcile interval, sweep disabled")
		<-m.rootCtx.Done()
		return
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		log.Error().Err(err).Msg("job: failed to create reconcile scheduler")
		<-m.rootCtx.Done()
		return
	}

	if _, err := sched.NewJob(jd, gocron.NewTask(func() {
		m.reconcileSweep(m.rootCtx)
	})); err != nil {
		log.Error().Err(err).Msg("job: failed to schedule reconcile sweep")
		<-m.rootCtx.Done()
		return
	}

	sched.Start()
	<-m.rootCtx.Done()
	_ = sched.Shutdown()
}

// reconcileSweep lists every torrent the Gateway currently knows about and
// nudges any local debrid_pending job whose Gateway-side status has already
// settled into debrid_ready/error, without waiting for its own poller's next
// tick.
func (m *Manager) reconcileSweep(ctx context.Context) {
	log := logger.Default()

	torrents, err := m.gateway.GetTorrents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("job: reconcile sweep failed to list gateway torrents")
		return
	}
	byID := make(map[string]gateway.Torrent, len(torrents))
	for _, t := range torrents {
		byID[t.ID] = t
	}

	m.mu.RLock()
	pending := make([]*Record, 0)
	for _, r := range m.jobs {
		r.mu.Lock()
		if r.State == StateDebridPending && r.DebridID != "" {
			pending = append(pending, r)
		}
		r.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, r := range pending {
		r.mu.Lock()
		t, ok := byID[r.DebridID]
		if !ok || r.State != StateDebridPending {
			r.mu.Unlock()
			continue
		}

		switch t.Status.Phase {
		case gateway.PhaseReady:
			hash := r.InfoHash
			r.Files = make([]JobFile, len(t.Status.Files))
			var total int64
			for i, f := range t.Status.Files {
				r.Files[i] = JobFile{Name: f.Name, Size: f.Size, HostedURL: f.HostedURL}
				total += f.Size
			}
			r.SizeTotal = total
			r.State = StateDebridReady
			if r.cancel != nil {
				r.cancel()
				r.cancel = nil
			}
			r.mu.Unlock()
			_ = m.store.Put(hash, r)
			m.sched.ReleasePending()
			m.sched.EnqueueReady(hash, m.sched.ClassFor(total))
			m.wake()
			log.Info().Str("hash", hash).Msg("job: reconcile sweep caught a settled debrid_ready job")
		case gateway.PhaseError:
			if r.cancel != nil {
				r.cancel()
				r.cancel = nil
			}
			r.mu.Unlock()
			m.sched.ReleasePending()
			m.failJob(r, ferr.New(ferr.DebridReject, t.Status.Reason))
			log.Info().Str("hash", r.InfoHash).Msg("job: reconcile sweep caught a settled error job")
		default:
			r.mu.Unlock()
		}
	}
}

func (m *Manager) startPoller(r *Record) {
	m.wg.Add(1)
	go m.pollDebrid(r)
}

// submitJob performs the queued -> debrid_pending transition: it posts the
// source to the Gateway and, on success, starts the status poller.
func (m *Manager) submitJob(r *Record) {
	defer m.wg.Done()
	log := logger.Default()

	ctx, cancel := context.WithCancel(m.rootCtx)
	r.mu.Lock()
	r.State = StateDebridPending
	r.Attempt = 0
	r.cancel = cancel
	hash := r.InfoHash
	source, sourceBytes := r.Source, r.SourceBytes
	r.mu.Unlock()
	_ = m.store.Put(hash, r)

	start := time.Now()
	id, err := m.gateway.Submit(ctx, source, sourceBytes)
	if m.metrics != nil {
		m.metrics.ObserveGatewayCall("submit", outcomeOf(err), time.Since(start))
	}
	if err != nil {
		m.sched.ReleasePending()
		if errTransient(err) {
			log.Warn().Err(err).Str("hash", hash).Msg("job: transient submit failure, requeueing")
			r.mu.Lock()
			r.State = StateQueued
			r.Attempt++
			r.cancel = nil
			r.mu.Unlock()
			_ = m.store.Put(hash, r)
			delay := backoffDelay(r.Attempt - 1)
			time.AfterFunc(delay, func() {
				m.mu.Lock()
				m.queuedFIFO.PushBack(hash)
				m.mu.Unlock()
				m.wake()
			})
			return
		}
		m.failJob(r, err)
		return
	}

	r.mu.Lock()
	r.DebridID = id
	r.cancel = nil
	r.mu.Unlock()
	m.startPoller(r)
}

// pollDebrid drives the debrid_pending -> {debrid_ready, error} transition
// per the §4.3 polling policy.
func (m *Manager) pollDebrid(r *Record) {
	defer m.wg.Done()
	log := logger.Default()

	ctx, cancel := context.WithCancel(m.rootCtx)
	r.mu.Lock()
	r.cancel = cancel
	hash, id := r.InfoHash, r.DebridID
	started := time.Now()
	r.mu.Unlock()

	for {
		elapsed := time.Since(started)
		if elapsed > debridProcessingCap {
			m.sched.ReleasePending()
			m.failJob(r, ferr.New(ferr.DebridProcessingFailed, "debrid processing timed out"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval(elapsed)):
		}

		start := time.Now()
		status, err := m.gateway.Status(ctx, id)
		if m.metrics != nil {
			m.metrics.ObserveGatewayCall("status", outcomeOf(err), time.Since(start))
		}
		if err != nil {
			if errTransient(err) {
				continue
			}
			m.sched.ReleasePending()
			m.failJob(r, err)
			return
		}

		switch status.Phase {
		case gateway.PhaseReady:
			m.sched.ReleasePending()
			r.mu.Lock()
			r.Files = make([]JobFile, len(status.Files))
			var total int64
			for i, f := range status.Files {
				r.Files[i] = JobFile{Name: f.Name, Size: f.Size, HostedURL: f.HostedURL}
				total += f.Size
			}
			r.SizeTotal = total
			r.State = StateDebridReady
			r.cancel = nil
			r.mu.Unlock()
			_ = m.store.Put(hash, r)
			m.sched.EnqueueReady(hash, m.sched.ClassFor(total))
			m.wake()
			return
		case gateway.PhaseError:
			m.sched.ReleasePending()
			m.failJob(r, ferr.New(ferr.DebridReject, status.Reason))
			return
		default:
			log.Debug().Str("hash", hash).Msg("job: debrid still processing")
		}
	}
}

// runDownload drives debrid_ready -> {completed, debrid_ready (retry),
// error}: it downloads every file sequentially into the save path.
func (m *Manager) runDownload(r *Record, class queue.SizeClass) {
	defer m.wg.Done()
	log := logger.Default()

	ctx, cancel := context.WithCancel(m.rootCtx)
	r.mu.Lock()
	r.State = StateDownloading
	r.cancel = cancel
	hash := r.InfoHash
	files := append([]JobFile(nil), r.Files...)
	r.mu.Unlock()
	_ = m.store.Put(hash, r)

	var baseDone int64
	for i := range files {
		if files[i].BytesWritten >= files[i].Size {
			baseDone += files[i].Size
			continue
		}

		err := m.downloadOne(ctx, r, &files[i], baseDone)
		if err != nil {
			m.sched.ReleaseRun(hash, class)
			if errTransient(err) {
				log.Warn().Err(err).Str("hash", hash).Str("file", files[i].Name).Msg("job: transient download failure")
				r.mu.Lock()
				r.Attempt++
				r.cancel = nil
				fatal := r.Attempt > maxConsecutiveTransient && files[i].BytesWritten == 0
				r.State = StateDebridReady
				r.DirectURL = ""
				r.mu.Unlock()
				if fatal {
					m.failJob(r, ferr.New(ferr.NetworkTransient, "exceeded consecutive transient failures without progress"))
					return
				}
				_ = m.store.Put(hash, r)
				delay := backoffDelay(r.Attempt - 1)
				time.AfterFunc(delay, func() {
					m.sched.EnqueueReady(hash, class)
					m.wake()
				})
				return
			}
			m.failJob(r, err)
			return
		}
		baseDone += files[i].Size
	}

	r.mu.Lock()
	r.State = StateCompleted
	r.CompletedAt = time.Now()
	r.SizeDone = r.SizeTotal
	r.cancel = nil
	r.mu.Unlock()
	_ = m.store.Put(hash, r)
	m.sched.ReleaseRun(hash, class)
	if m.metrics != nil {
		m.metrics.JobsCompleted.Inc()
	}
	m.wake()
}

// downloadOne streams a single file, re-unlocking once if the direct URL
// has expired, and updates r.SizeDone/SpeedBps as bytes land.
func (m *Manager) downloadOne(ctx context.Context, r *Record, file *JobFile, baseDone int64) error {
	r.mu.Lock()
	directURL := r.DirectURL
	expired := r.URLExpiresAt.IsZero() || time.Now().After(r.URLExpiresAt)
	hash := r.InfoHash
	r.mu.Unlock()

	if directURL == "" || expired {
		start := time.Now()
		unlocked, err := m.gateway.Unlock(ctx, file.HostedURL)
		if m.metrics != nil {
			m.metrics.ObserveGatewayCall("unlock", outcomeOf(err), time.Since(start))
		}
		if err != nil {
			return err
		}
		ttl := unlocked.TTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		r.mu.Lock()
		r.DirectURL = unlocked.DirectURL
		r.URLExpiresAt = time.Now().Add(ttl)
		directURL = r.DirectURL
		r.mu.Unlock()
	}

	req := downloader.Request{
		URL:             directURL,
		Dest:            filepath.Join(r.SavePath, file.Name),
		SizeTotal:       file.Size,
		Offset:          file.BytesWritten,
		Connections:     m.profile.MaxConnectionsPerJob,
		BufferBytes:     m.profile.DiskBufferBytes,
		WriteBatchBytes: m.profile.DiskBufferBytes,
		FlushInterval:   m.profile.FlushInterval,
		Preallocate:     m.profile.PreallocateFile,
	}

	var lastPersist time.Time
	prevDone := file.BytesWritten
	err := m.dl.Run(ctx, req, func(sizeDone int64, speedBps float64) {
		r.mu.Lock()
		file.BytesWritten = sizeDone
		r.SizeDone = baseDone + sizeDone
		r.SpeedBps = speedBps
		if sizeDone > req.Offset {
			r.Attempt = 0
		}
		r.mu.Unlock()
		if m.metrics != nil && sizeDone > prevDone {
			m.metrics.BytesWritten.Add(float64(sizeDone - prevDone))
			prevDone = sizeDone
		}
		if time.Since(lastPersist) >= persistThrottle {
			lastPersist = time.Now()
			m.store.PutAsync(hash, r)
		}
	})
	return err
}

// outcomeOf maps a Gateway call's error to a Prometheus label value.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// failJob transitions a job to the terminal error state.
func (m *Manager) failJob(r *Record, err error) {
	r.mu.Lock()
	r.State = StateError
	r.LastError = err.Error()
	r.cancel = nil
	hash := r.InfoHash
	r.mu.Unlock()
	_ = m.store.Put(hash, r)
	if m.metrics != nil {
		m.metrics.JobsErrored.WithLabelValues(string(ferr.KindOf(err))).Inc()
	}
}
