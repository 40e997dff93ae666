package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jbrannan/flowgate/internal/testutil"
	"github.com/jbrannan/flowgate/pkg/job"
	"github.com/jbrannan/flowgate/pkg/persistence"
	"github.com/jbrannan/flowgate/pkg/storageprobe"
)

func testAdapter(t *testing.T) (*Adapter, *job.Manager) {
	t.Helper()
	store, err := persistence.Open[*job.Record](filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	profile := storageprobe.Profile{
		MaxConnectionsPerJob: 1,
		ConcurrentLarge:      1,
		ConcurrentSmall:      2,
		LargeThresholdBytes:  1 << 30,
	}
	m := job.New(store, testutil.NewFakeGateway(), &testutil.FakeDownloader{}, profile)
	m.Start(context.Background())
	t.Cleanup(m.Shutdown)
	return New(m, t.TempDir(), 3, "test-session-key"), m
}

func TestHandleLogin_AlwaysSucceeds(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader("username=anything&password=anything"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "Ok." {
		t.Errorf("expected body Ok., got %q", rec.Body.String())
	}
}

func TestHandleProfile(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/app/profile", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "is_premium") {
		t.Errorf("expected profile JSON body, got %q", rec.Body.String())
	}
}

func TestHandleTorrentsAdd_Magnet(t *testing.T) {
	a, m := testAdapter(t)
	hash := "0123456789abcdef0123456789abcdef01234567"
	form := url.Values{
		"urls":     {"magnet:?xt=urn:btih:" + hash + "&dn=Example"},
		"category": {"radarr"},
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := m.Get(hash); !ok {
		t.Error("expected job to be added")
	}
}

func TestHandleTorrentsAdd_TorrentURL(t *testing.T) {
	const torrentBytes = "d4:infod6:lengthi1024e4:name8:test.txt12:piece lengthi16384e6:pieces20:01234567890123456789ee"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(torrentBytes))
	}))
	defer ts.Close()

	a, m := testAdapter(t)
	form := url.Values{
		"urls":     {ts.URL + "/release.torrent"},
		"category": {"radarr"},
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(m.List()) != 1 {
		t.Errorf("expected one job to be added from the fetched torrent, got %d", len(m.List()))
	}
}

func TestHandleTorrentsAdd_InvalidMagnet(t *testing.T) {
	a, _ := testAdapter(t)
	form := url.Values{"urls": {"magnet:?xt=urn:btih:not-a-hash"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unparsable magnet, got %d", rec.Code)
	}
}

func TestHandleTorrentsAdd_UnrecognizedContentType(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/add", strings.NewReader("garbage"))
	req.Header.Set("Content-Type", "text/plain")
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", rec.Code)
	}
}

func TestHandleTorrentsInfo_FiltersByCategory(t *testing.T) {
	a, m := testAdapter(t)
	_, _ = m.Add("aaaa000000000000000000000000000000000a", "magnet:?xt=urn:btih:aaaa000000000000000000000000000000000a", nil, "A", "radarr", t.TempDir())
	_, _ = m.Add("bbbb000000000000000000000000000000000b", "magnet:?xt=urn:btih:bbbb000000000000000000000000000000000b", nil, "B", "sonarr", t.TempDir())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/torrents/info?category=radarr", nil)
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"category":"radarr"`) {
		t.Errorf("expected radarr job in body, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"category":"sonarr"`) {
		t.Errorf("expected sonarr job to be filtered out, got %s", rec.Body.String())
	}
}

func TestHandleTorrentProperties_NotFound(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/torrents/properties?hash=doesnotexist", nil)
	a.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown hash, got %d", rec.Code)
	}
}

func TestHandleTorrentsPauseResume(t *testing.T) {
	a, m := testAdapter(t)
	hash := "cccc000000000000000000000000000000000c"
	_, _ = m.Add(hash, "magnet:?xt=urn:btih:"+hash, nil, "C", "radarr", t.TempDir())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/pause", strings.NewReader("hashes="+hash))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r, ok := m.Get(hash); ok && r.Snapshot().State == job.StatePaused {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r, _ := m.Get(hash)
	if r.Snapshot().State != job.StatePaused {
		t.Fatalf("expected paused, got %s", r.Snapshot().State)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/torrents/resume", strings.NewReader("hashes="+hash))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleTorrentsTrackers_ReturnsEmptyArray(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/torrents/trackers?hash=anything", nil)
	a.Routes().ServeHTTP(rec, req)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandleVersion(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/app/version", nil))
	if rec.Body.String() != "v4.5.0" {
		t.Errorf("unexpected version: %s", rec.Body.String())
	}
}

func TestHandleWebAPIVersion(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/app/webapiVersion", nil))
	if rec.Body.String() != "2.8.3" {
		t.Errorf("expected 2.8.3, got %s", rec.Body.String())
	}
}

func TestHandleTags_AddListRemove(t *testing.T) {
	a, m := testAdapter(t)
	hash := "dddd000000000000000000000000000000000d"
	_, _ = m.Add(hash, "magnet:?xt=urn:btih:"+hash, nil, "D", "radarr", t.TempDir())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/addTags", strings.NewReader("hashes="+hash+"&tags=tv, hd"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	r, _ := m.Get(hash)
	got := r.Snapshot().Tags
	if len(got) != 2 || got[0] != "tv" || got[1] != "hd" {
		t.Fatalf("expected [tv hd], got %v", got)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/torrents/info", nil)
	a.Routes().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"tags":"tv, hd"`) {
		t.Errorf("expected tags to surface in torrents/info, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/torrents/removeTags", strings.NewReader("hashes="+hash+"&tags=hd"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	r, _ = m.Get(hash)
	got = r.Snapshot().Tags
	if len(got) != 1 || got[0] != "tv" {
		t.Fatalf("expected [tv] after removal, got %v", got)
	}
}

func TestHandleCreateAndGetTags(t *testing.T) {
	a, _ := testAdapter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/torrents/createTags", strings.NewReader("tags=movies, tv, movies"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/torrents/tags", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `["movies","tv"]` {
		t.Errorf("expected deduped sorted tag list, got %s", rec.Body.String())
	}
}
