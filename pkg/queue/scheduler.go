// Package queue is the Scheduler (spec §4.4): the admission policy over
// pending Jobs. It partitions ready jobs by size class, enforces the
// tuning profile's concurrency limits, caps outstanding Gateway
// submissions, and applies the large-slot-lends-two-small tie-break.
//
// Grounded on decypharr's pkg/store/queue.go (trackAvailableSlots,
// processSlotsQueue: a ticker walks available per-provider slots and pops
// the import queue while capacity remains) — reshaped from a single global
// slot count into two size-class FIFOs plus the borrow rule spec §4.4.3
// describes, and from a ticker-poll trigger into fully event-driven
// admission (spec §4.4.4: triggered by add/completion/pause/resume/delete/
// error, never polled).
package queue

import (
	"container/list"
	"sync"

	"github.com/jbrannan/flowgate/pkg/storageprobe"
)

// SizeClass partitions jobs by the profile's large-job threshold.
type SizeClass int

const (
	Small SizeClass = iota
	Large
)

// maxPendingSubmissions is spec §4.4.2's cap on outstanding debrid_pending
// jobs, independent of run slots.
const maxPendingSubmissions = 16

// Scheduler holds the ready-set FIFOs and slot accounting. All methods are
// safe for concurrent use; callers hold no other lock while calling in.
type Scheduler struct {
	mu sync.Mutex

	profile storageprobe.Profile

	readyLarge *list.List // of string (info_hash)
	readySmall *list.List

	pendingCount int

	runningLarge         int
	runningSmall         int
	borrowedSmallRunning int // subset of runningSmall occupying a borrowed large slot
	borrowed             map[string]bool
}

// NewScheduler builds a Scheduler against a tuning profile (from
// storageprobe.Probe).
func NewScheduler(profile storageprobe.Profile) *Scheduler {
	return &Scheduler{
		profile:    profile,
		readyLarge: list.New(),
		readySmall: list.New(),
		borrowed:   make(map[string]bool),
	}
}

// ClassFor returns the size class of a job given its total size.
func (s *Scheduler) ClassFor(sizeTotal int64) SizeClass {
	if sizeTotal >= s.profile.LargeThresholdBytes {
		return Large
	}
	return Small
}

// AdmitPending reserves one of the 16 outstanding-submission slots for a
// job about to move queued -> debrid_pending. Returns false when the cap
// is already reached; the caller leaves the job in queued and retries on
// the next admission-triggering event.
func (s *Scheduler) AdmitPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCount >= maxPendingSubmissions {
		return false
	}
	s.pendingCount++
	return true
}

// ReleasePending frees a submission slot: the job left debrid_pending,
// either into debrid_ready or error.
func (s *Scheduler) ReleasePending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCount > 0 {
		s.pendingCount--
	}
}

// EnqueueReady adds a debrid_ready job to the tail of its class's FIFO.
func (s *Scheduler) EnqueueReady(hash string, class SizeClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueFor(class).PushBack(hash)
}

// RemoveReady drops hash from the ready FIFO without running it (pause or
// delete while still waiting for a run slot). No-op if hash isn't queued.
func (s *Scheduler) RemoveReady(hash string, class SizeClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queueFor(class)
	for e := q.Front(); e != nil; e = e.Next() {
		if e.Value.(string) == hash {
			q.Remove(e)
			return
		}
	}
}

func (s *Scheduler) queueFor(class SizeClass) *list.List {
	if class == Large {
		return s.readyLarge
	}
	return s.readySmall
}

// ceilHalf computes ceil(n/2) for tracking how many large-slot units a
// count of borrowed small jobs consumes (spec §4.4.3: one large slot
// lends two small jobs).
func ceilHalf(n int) int {
	return (n + 1) / 2
}

// TryAdmit pops the next job to run, honoring concurrency limits and the
// large-lends-two-small tie-break. Returns ok=false when no slot is
// available for either class right now. Callers (the Job Manager) call
// this once per admission-triggering event per size class until it
// returns false.
func (s *Scheduler) TryAdmit() (hash string, class SizeClass, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	freeLarge := s.profile.ConcurrentLarge - s.runningLarge - ceilHalf(s.borrowedSmallRunning)

	if s.readyLarge.Len() > 0 && freeLarge > 0 {
		e := s.readyLarge.Front()
		s.readyLarge.Remove(e)
		s.runningLarge++
		return e.Value.(string), Large, true
	}

	nonBorrowedSmallRunning := s.runningSmall - s.borrowedSmallRunning
	if s.readySmall.Len() > 0 && nonBorrowedSmallRunning < s.profile.ConcurrentSmall {
		e := s.readySmall.Front()
		s.readySmall.Remove(e)
		s.runningSmall++
		return e.Value.(string), Small, true
	}

	// Tie-break: large queue empty and a large slot is free -> lend it to
	// up to two additional small jobs.
	lendable := 2 * (s.profile.ConcurrentLarge - s.runningLarge)
	if s.readySmall.Len() > 0 && s.readyLarge.Len() == 0 && s.borrowedSmallRunning < lendable {
		e := s.readySmall.Front()
		s.readySmall.Remove(e)
		hash = e.Value.(string)
		s.runningSmall++
		s.borrowedSmallRunning++
		s.borrowed[hash] = true
		return hash, Small, true
	}

	return "", 0, false
}

// ReleaseRun returns a finished/paused/deleted job's run slot. Callers
// should follow with TryAdmit to fill the freed slot (admission is
// event-driven, never polled).
func (s *Scheduler) ReleaseRun(hash string, class SizeClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch class {
	case Large:
		if s.runningLarge > 0 {
			s.runningLarge--
		}
	case Small:
		if s.runningSmall > 0 {
			s.runningSmall--
		}
		if s.borrowed[hash] {
			delete(s.borrowed, hash)
			if s.borrowedSmallRunning > 0 {
				s.borrowedSmallRunning--
			}
		}
	}
}

// Stats is a point-in-time snapshot for diagnostics/metrics.
type Stats struct {
	ReadyLarge           int
	ReadySmall           int
	PendingSubmissions   int
	RunningLarge         int
	RunningSmall         int
	BorrowedSmallRunning int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ReadyLarge:           s.readyLarge.Len(),
		ReadySmall:           s.readySmall.Len(),
		PendingSubmissions:   s.pendingCount,
		RunningLarge:         s.runningLarge,
		RunningSmall:         s.runningSmall,
		BorrowedSmallRunning: s.borrowedSmallRunning,
	}
}
