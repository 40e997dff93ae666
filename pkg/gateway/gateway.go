// Package gateway defines the Debrid Gateway's client contract (spec §4.3):
// submit a magnet/torrent, poll its processing status, and unlock a hosted
// file URL into a direct, time-limited download URL.
package gateway

import (
	"context"
	"time"
)

// Phase is the Gateway's reported processing phase for a submitted torrent.
type Phase string

const (
	PhaseProcessing Phase = "processing"
	PhaseReady      Phase = "ready"
	PhaseError      Phase = "error"
)

// File is one entry of a Ready torrent's file list.
type File struct {
	Name      string
	Size      int64
	HostedURL string
}

// Status is the result of polling a submitted torrent's processing state.
type Status struct {
	Phase  Phase
	Files  []File // populated only when Phase == PhaseReady
	Reason string // populated only when Phase == PhaseError
}

// Unlocked is the result of unlocking a hosted URL into a direct URL.
type Unlocked struct {
	DirectURL string
	TTL       time.Duration
}

// Profile is read-only account information, exposed at debug endpoints but
// never required by the core state machine.
type Profile struct {
	Username        string
	PremiumUntil    time.Time
	IsPremium       bool
}

// Torrent is a minimal view of a Gateway-side torrent record, used by the
// reconciliation sweep (GetTorrents) to catch state changes missed between
// per-job polls.
type Torrent struct {
	ID     string
	Status Status
}

// Client is the Debrid Gateway's contract. Implementations must honor the
// shared rate limiter and retry policy internally; callers never see a
// rate-limit error, only DebridUnavailable after retries are exhausted.
type Client interface {
	// Submit posts a magnet URI or raw torrent bytes and returns an opaque
	// identifier to poll with Status.
	Submit(ctx context.Context, magnetOrTorrent string, torrentBytes []byte) (id string, err error)

	// Status polls the processing state of a previously submitted id.
	Status(ctx context.Context, id string) (Status, error)

	// Unlock converts a hosted URL (from a Ready Status's Files) into a
	// direct, time-limited download URL.
	Unlock(ctx context.Context, hostedURL string) (Unlocked, error)

	// Delete removes a submitted torrent from the Gateway's side, used on
	// fatal error and on explicit delete-with-files.
	Delete(ctx context.Context, id string) error

	// GetTorrents lists all torrents currently known to the Gateway, for
	// the periodic reconciliation sweep.
	GetTorrents(ctx context.Context) ([]Torrent, error)

	// GetProfile returns account/premium information.
	GetProfile(ctx context.Context) (Profile, error)
}
