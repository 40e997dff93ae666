// Package testutil provides fakes shared by pkg/job and pkg/api tests: a
// scripted Gateway client and a scripted Downloader, standing in for the
// real AllDebrid and HTTP implementations the way decypharr's tests stub
// its debrid clients.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/jbrannan/flowgate/pkg/gateway"
)

// StatusScript is one scripted response to a Status poll.
type StatusScript struct {
	Status gateway.Status
	Err    error
}

// FakeGateway is a gateway.Client whose Status calls return a scripted
// sequence per submitted id, advancing one entry per call and repeating
// the last entry once exhausted.
type FakeGateway struct {
	mu sync.Mutex

	SubmitErr error
	NextID    int

	// Scripts maps a submitted id to its ordered Status responses.
	Scripts map[string][]StatusScript
	calls   map[string]int

	UnlockFunc func(hostedURL string) (gateway.Unlocked, error)
	DeleteErr  error

	// Torrents is returned verbatim by GetTorrents, for exercising the
	// reconciliation sweep.
	Torrents    []gateway.Torrent
	TorrentsErr error
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Scripts: make(map[string][]StatusScript),
		calls:   make(map[string]int),
	}
}

func (f *FakeGateway) Submit(ctx context.Context, magnetOrTorrent string, torrentBytes []byte) (string, error) {
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NextID++
	return fmt.Sprintf("id-%d", f.NextID), nil
}

func (f *FakeGateway) Status(ctx context.Context, id string) (gateway.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.Scripts[id]
	if len(script) == 0 {
		return gateway.Status{Phase: gateway.PhaseProcessing}, nil
	}
	i := f.calls[id]
	if i >= len(script) {
		i = len(script) - 1
	}
	f.calls[id]++
	return script[i].Status, script[i].Err
}

func (f *FakeGateway) Unlock(ctx context.Context, hostedURL string) (gateway.Unlocked, error) {
	if f.UnlockFunc != nil {
		return f.UnlockFunc(hostedURL)
	}
	return gateway.Unlocked{DirectURL: hostedURL + "?direct=1"}, nil
}

func (f *FakeGateway) Delete(ctx context.Context, id string) error {
	return f.DeleteErr
}

func (f *FakeGateway) GetTorrents(ctx context.Context) ([]gateway.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Torrents, f.TorrentsErr
}

func (f *FakeGateway) GetProfile(ctx context.Context) (gateway.Profile, error) {
	return gateway.Profile{}, nil
}
