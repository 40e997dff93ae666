// Package job owns the per-Job state machine (spec §3, §4.2): it mediates
// Persistence, the Debrid Gateway, the Scheduler and the Downloader.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// State is one of the Job lifecycle states (spec §3).
type State string

const (
	StateQueued        State = "queued"
	StateDebridPending State = "debrid_pending"
	StateDebridReady   State = "debrid_ready"
	StateDownloading   State = "downloading"
	StatePaused        State = "paused"
	StateCompleted     State = "completed"
	StateError         State = "error"
)

// JobFile is one entry of a possibly multi-file torrent, downloaded
// sequentially into the Job's save path (spec §4.3 "Multi-file torrents").
type JobFile struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	HostedURL    string `json:"hosted_url"`
	BytesWritten int64  `json:"bytes_written"`
}

// Record is the Job itself (spec §3). Exported fields are the persisted
// view; mu and cancel are concurrency-control fields the JSON encoder skips
// automatically because they're unexported.
type Record struct {
	InfoHash     string    `json:"info_hash"`
	Source       string    `json:"source"` // magnet URI
	SourceBytes  []byte    `json:"source_bytes,omitempty"`
	DisplayName  string    `json:"display_name"`
	Category     string    `json:"category"`
	SavePath     string    `json:"save_path"`
	State        State     `json:"state"`
	PriorState   State     `json:"prior_state,omitempty"` // state to resume into after pause
	Files        []JobFile `json:"files"`
	SizeTotal    int64     `json:"size_total"`
	SizeDone     int64     `json:"size_done"`
	SpeedBps     float64   `json:"speed_bps"`
	DirectURL    string    `json:"direct_url"`
	URLExpiresAt time.Time `json:"url_expires_at"`
	Attempt      int       `json:"attempt"`
	LastError    string    `json:"last_error"`
	Tags         []string  `json:"tags,omitempty"`
	DeletedFiles []string  `json:"deleted_files,omitempty"`
	DebridID     string    `json:"debrid_id"`
	AddedAt      time.Time `json:"added_at"`
	CompletedAt  time.Time `json:"completed_at"`

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ETA returns (size_total-size_done)/speed_bps in seconds, or the sentinel
// 8640000 (100 days, qBittorrent's "unknown" convention) when speed is zero
// or the job isn't sized yet.
func (r *Record) ETA() int {
	const unknown = 8640000
	if r.SizeTotal <= 0 || r.SpeedBps <= 0 {
		return unknown
	}
	remaining := float64(r.SizeTotal - r.SizeDone)
	if remaining <= 0 {
		return 0
	}
	eta := remaining / r.SpeedBps
	if math.IsInf(eta, 1) || eta > unknown {
		return unknown
	}
	return int(eta)
}

// Progress returns size_done/size_total in [0,1], or 0 before size is known.
func (r *Record) Progress() float64 {
	if r.SizeTotal <= 0 {
		return 0
	}
	return float64(r.SizeDone) / float64(r.SizeTotal)
}

// View is a lock-free, point-in-time copy of a Record, safe to read
// without access to its mutex. The API Adapter builds its job-view JSON
// from this rather than touching Record's unexported fields directly.
type View struct {
	InfoHash     string
	DisplayName  string
	Category     string
	SavePath     string
	State        State
	Files        []JobFile
	SizeTotal    int64
	SizeDone     int64
	SpeedBps     float64
	ETA          int
	Progress     float64
	LastError    string
	Tags         []string
	AddedAt      time.Time
	CompletedAt  time.Time
}

// Snapshot copies r's fields under lock.
func (r *Record) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		InfoHash:    r.InfoHash,
		DisplayName: r.DisplayName,
		Category:    r.Category,
		SavePath:    r.SavePath,
		State:       r.State,
		Files:       append([]JobFile(nil), r.Files...),
		SizeTotal:   r.SizeTotal,
		SizeDone:    r.SizeDone,
		SpeedBps:    r.SpeedBps,
		ETA:         r.ETA(),
		Progress:    r.Progress(),
		LastError:   r.LastError,
		Tags:        append([]string(nil), r.Tags...),
		AddedAt:     r.AddedAt,
		CompletedAt: r.CompletedAt,
	}
}

func newRecord(hash, source string, sourceBytes []byte, name, category, savePath string) *Record {
	now := time.Now()
	return &Record{
		InfoHash:    hash,
		Source:      source,
		SourceBytes: sourceBytes,
		DisplayName: name,
		Category:    category,
		SavePath:    savePath,
		State:       StateQueued,
		AddedAt:     now,
	}
}

// recordJSON mirrors Record's exported fields with no methods of its own, so
// marshaling through it can't recurse back into Record.MarshalJSON.
type recordJSON struct {
	InfoHash     string    `json:"info_hash"`
	Source       string    `json:"source"`
	SourceBytes  []byte    `json:"source_bytes,omitempty"`
	DisplayName  string    `json:"display_name"`
	Category     string    `json:"category"`
	SavePath     string    `json:"save_path"`
	State        State     `json:"state"`
	PriorState   State     `json:"prior_state,omitempty"`
	Files        []JobFile `json:"files"`
	SizeTotal    int64     `json:"size_total"`
	SizeDone     int64     `json:"size_done"`
	SpeedBps     float64   `json:"speed_bps"`
	DirectURL    string    `json:"direct_url"`
	URLExpiresAt time.Time `json:"url_expires_at"`
	Attempt      int       `json:"attempt"`
	LastError    string    `json:"last_error"`
	Tags         []string  `json:"tags,omitempty"`
	DeletedFiles []string  `json:"deleted_files,omitempty"`
	DebridID     string    `json:"debrid_id"`
	AddedAt      time.Time `json:"added_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// MarshalJSON takes r.mu itself before reading any field, so
// persistence.Store[*Record].Save() (which otherwise only knows Store's own
// mutex, not Record's) can marshal a live Record concurrently with
// workers.go mutating it under r.mu without racing.
func (r *Record) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(recordJSON{
		InfoHash:     r.InfoHash,
		Source:       r.Source,
		SourceBytes:  r.SourceBytes,
		DisplayName:  r.DisplayName,
		Category:     r.Category,
		SavePath:     r.SavePath,
		State:        r.State,
		PriorState:   r.PriorState,
		Files:        r.Files,
		SizeTotal:    r.SizeTotal,
		SizeDone:     r.SizeDone,
		SpeedBps:     r.SpeedBps,
		DirectURL:    r.DirectURL,
		URLExpiresAt: r.URLExpiresAt,
		Attempt:      r.Attempt,
		LastError:    r.LastError,
		Tags:         r.Tags,
		DeletedFiles: r.DeletedFiles,
		DebridID:     r.DebridID,
		AddedAt:      r.AddedAt,
		CompletedAt:  r.CompletedAt,
	})
}

// UnmarshalJSON restores a Record's exported fields from its persisted JSON
// shape (persistence.Open, before mu/cancel exist).
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.InfoHash = raw.InfoHash
	r.Source = raw.Source
	r.SourceBytes = raw.SourceBytes
	r.DisplayName = raw.DisplayName
	r.Category = raw.Category
	r.SavePath = raw.SavePath
	r.State = raw.State
	r.PriorState = raw.PriorState
	r.Files = raw.Files
	r.SizeTotal = raw.SizeTotal
	r.SizeDone = raw.SizeDone
	r.SpeedBps = raw.SpeedBps
	r.DirectURL = raw.DirectURL
	r.URLExpiresAt = raw.URLExpiresAt
	r.Attempt = raw.Attempt
	r.LastError = raw.LastError
	r.Tags = raw.Tags
	r.DeletedFiles = raw.DeletedFiles
	r.DebridID = raw.DebridID
	r.AddedAt = raw.AddedAt
	r.CompletedAt = raw.CompletedAt
	return nil
}

func (r *Record) String() string {
	return fmt.Sprintf("job(%s, %s, %s)", r.InfoHash, r.DisplayName, r.State)
}
