package alldebrid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jbrannan/flowgate/pkg/gateway"
)

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"magnets":[{"hash":"abc","id":42,"ready":false}]}}`))
	}))
	defer server.Close()

	c := New("key", server.URL, nil)
	id, err := c.Submit(context.Background(), "magnet:?xt=urn:btih:abc", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "42" {
		t.Errorf("expected id 42, got %s", id)
	}
}

func TestStatus_Ready(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"magnets":{"id":42,"filename":"movie.mkv","size":100,"hash":"abc","statusCode":4,"files":[{"n":"movie.mkv","s":100,"l":"https://alldebrid.com/f/movie.mkv"}]}}}`))
	}))
	defer server.Close()

	c := New("key", server.URL, nil)
	st, err := c.Status(context.Background(), "42")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Phase != gateway.PhaseReady {
		t.Errorf("expected PhaseReady, got %s", st.Phase)
	}
	if len(st.Files) != 1 || st.Files[0].Name != "movie.mkv" {
		t.Errorf("unexpected files: %+v", st.Files)
	}
}

func TestStatus_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"magnets":{"id":42,"statusCode":5}}}`))
	}))
	defer server.Close()

	c := New("key", server.URL, nil)
	st, err := c.Status(context.Background(), "42")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Phase != gateway.PhaseError {
		t.Errorf("expected PhaseError, got %s", st.Phase)
	}
}

func TestUnlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"link":"https://direct.example/f","filename":"movie.mkv","filesize":100}}`))
	}))
	defer server.Close()

	c := New("key", server.URL, nil)
	unlocked, err := c.Unlock(context.Background(), "https://alldebrid.com/f/movie.mkv")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if unlocked.DirectURL != "https://direct.example/f" {
		t.Errorf("unexpected direct URL: %s", unlocked.DirectURL)
	}
}

func TestUnlock_Expired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","error":{"code":"LINK_DOWN","message":"link is not available"}}`))
	}))
	defer server.Close()

	c := New("key", server.URL, nil)
	if _, err := c.Unlock(context.Background(), "https://alldebrid.com/f/gone.mkv"); err == nil {
		t.Error("expected an error for a dead link")
	}
}

func TestGetTorrents_IncludesErrorAndReadyPhases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := r.URL.Query().Get("status"); status != "" {
			t.Errorf("expected no status filter, got %q", status)
		}
		w.Write([]byte(`{"status":"success","data":{"magnets":[
			{"id":1,"hash":"aaa","statusCode":4,"files":[{"n":"movie.mkv","s":100,"l":"https://alldebrid.com/f/movie.mkv"}]},
			{"id":2,"hash":"bbb","statusCode":5}
		]}}`))
	}))
	defer server.Close()

	c := New("key", server.URL, nil)
	torrents, err := c.GetTorrents(context.Background())
	if err != nil {
		t.Fatalf("GetTorrents failed: %v", err)
	}
	if len(torrents) != 2 {
		t.Fatalf("expected 2 torrents, got %d", len(torrents))
	}

	var sawReady, sawError bool
	for _, tr := range torrents {
		switch tr.Status.Phase {
		case gateway.PhaseReady:
			sawReady = true
		case gateway.PhaseError:
			sawError = true
		}
	}
	if !sawReady {
		t.Error("expected a ready-phase torrent in the listing")
	}
	if !sawError {
		t.Error("expected an error-phase torrent in the listing, status=ready filter must be gone")
	}
}

func TestFlattenFiles_Nested(t *testing.T) {
	files := []magnetFile{
		{Name: "Season 1", Elements: []magnetFile{
			{Name: "e01.mkv", Size: 10, Link: "l1"},
			{Name: "e02.mkv", Size: 20, Link: "l2"},
		}},
	}
	flat := flattenFiles(files, "")
	if len(flat) != 2 {
		t.Fatalf("expected 2 flattened files, got %d", len(flat))
	}
}
