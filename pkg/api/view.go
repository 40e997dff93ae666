// Package api is the qBittorrent-compatible HTTP Adapter (spec §6): a thin
// chi-routed translation layer over pkg/job.Manager. It owns no state of
// its own beyond request parsing.
//
// Grounded on decypharr's pkg/qbit (routes.go's chi.Router tree,
// http.go's handler bodies, context.go's category/hash middleware), with
// the Arr-host/token authentication dance dropped: spec.md §6 is explicit
// that "authentication endpoints accept any credentials and return
// success", so there is nothing to validate.
package api

import (
	"strings"

	"github.com/jbrannan/flowgate/pkg/job"
)

// torrentView is one entry of GET /torrents/info (spec §6 "Job view
// fields").
type torrentView struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	Size         int64   `json:"size"`
	Progress     float64 `json:"progress"`
	DlSpeed      float64 `json:"dlspeed"`
	UpSpeed      int     `json:"upspeed"`
	ETA          int     `json:"eta"`
	State        string  `json:"state"`
	Category     string  `json:"category"`
	SavePath     string  `json:"save_path"`
	AddedOn      int64   `json:"added_on"`
	CompletionOn int64   `json:"completion_on"`
	Completed    int64   `json:"completed"`
	Downloaded   int64   `json:"downloaded"`
	Uploaded     int     `json:"uploaded"`
	Ratio        float64 `json:"ratio"`
	Tags         string  `json:"tags"`
}

// stateView maps a Job's internal State to qBittorrent's vocabulary
// (spec §6 "State mapping").
func stateView(s job.State) string {
	switch s {
	case job.StateQueued, job.StateDebridPending:
		return "queuedDL"
	case job.StateDebridReady:
		return "stalledDL"
	case job.StateDownloading:
		return "downloading"
	case job.StatePaused:
		return "pausedDL"
	case job.StateCompleted:
		return "completed"
	case job.StateError:
		return "error"
	default:
		return "unknown"
	}
}

func newTorrentView(v job.View) torrentView {
	var completionOn int64
	if !v.CompletedAt.IsZero() {
		completionOn = v.CompletedAt.Unix()
	}
	return torrentView{
		Hash:         v.InfoHash,
		Name:         v.DisplayName,
		Size:         v.SizeTotal,
		Progress:     v.Progress,
		DlSpeed:      v.SpeedBps,
		UpSpeed:      0,
		ETA:          v.ETA,
		State:        stateView(v.State),
		Category:     v.Category,
		SavePath:     v.SavePath,
		AddedOn:      v.AddedAt.Unix(),
		CompletionOn: completionOn,
		Completed:    v.SizeDone,
		Downloaded:   v.SizeDone,
		Uploaded:     0,
		Ratio:        0.0,
		Tags:         strings.Join(v.Tags, ", "),
	}
}

// fileView is one entry of GET /torrents/files.
type fileView struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
}

func newFileViews(v job.View) []fileView {
	out := make([]fileView, len(v.Files))
	for i, f := range v.Files {
		progress := 0.0
		if f.Size > 0 {
			progress = float64(f.BytesWritten) / float64(f.Size)
		}
		out[i] = fileView{Name: f.Name, Size: f.Size, Progress: progress}
	}
	return out
}

// propertiesView is GET /torrents/properties (spec §6: "object with
// sizes, dates, speed").
type propertiesView struct {
	Name           string  `json:"name"`
	Hash           string  `json:"hash"`
	SaveLocation   string  `json:"save_path"`
	TotalSize      int64   `json:"total_size"`
	SizeDone       int64   `json:"size_done"`
	DlSpeed        float64 `json:"dl_speed"`
	ETA            int     `json:"eta"`
	AdditionDate   int64   `json:"addition_date"`
	CompletionDate int64   `json:"completion_date"`
	LastError      string  `json:"last_error"`
}

func newPropertiesView(v job.View) propertiesView {
	var completionDate int64
	if !v.CompletedAt.IsZero() {
		completionDate = v.CompletedAt.Unix()
	}
	return propertiesView{
		Name:           v.DisplayName,
		Hash:           v.InfoHash,
		SaveLocation:   v.SavePath,
		TotalSize:      v.SizeTotal,
		SizeDone:       v.SizeDone,
		DlSpeed:        v.SpeedBps,
		ETA:            v.ETA,
		AdditionDate:   v.AddedAt.Unix(),
		CompletionDate: completionDate,
		LastError:      v.LastError,
	}
}
