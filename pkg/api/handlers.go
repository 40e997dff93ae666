package api

import (
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorilla/sessions"

	"github.com/jbrannan/flowgate/internal/logger"
	"github.com/jbrannan/flowgate/internal/request"
	"github.com/jbrannan/flowgate/pkg/job"
	"github.com/jbrannan/flowgate/pkg/magnet"
)

// Adapter is the qBittorrent-compatible HTTP Adapter (spec §4.7, §6): a
// stateless translation layer over a pkg/job.Manager.
type Adapter struct {
	manager            *job.Manager
	downloadPath       string
	maxActiveDownloads int
	sessions           *sessions.CookieStore
}

// New builds an Adapter. downloadPath is the root under which
// downloads/<category>/ save paths are derived (spec §6 "Persisted
// layout"); maxActiveDownloads is reported verbatim in app/preferences;
// sessionKey signs the dummy login cookie (callers pass config.Config's
// per-install SecretKey()).
func New(m *job.Manager, downloadPath string, maxActiveDownloads int, sessionKey string) *Adapter {
	return &Adapter{
		manager:            m,
		downloadPath:       downloadPath,
		maxActiveDownloads: maxActiveDownloads,
		sessions:           sessions.NewCookieStore([]byte(sessionKey)),
	}
}

// handleLogin never rejects a credential (spec §6: "Authentication
// endpoints accept any credentials and return success"), but still sets
// the SID cookie real qBittorrent clients expect to see before they stop
// re-sending Basic auth on every call.
func (a *Adapter) handleLogin(w http.ResponseWriter, r *http.Request) {
	session, _ := a.sessions.New(r, "SID")
	session.Values["authenticated"] = true
	_ = session.Save(r, w)
	_, _ = w.Write([]byte("Ok."))
}

func (a *Adapter) handleVersion(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("v4.5.0"))
}

func (a *Adapter) handleWebAPIVersion(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("2.8.3"))
}

func (a *Adapter) handlePreferences(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, map[string]interface{}{
		"save_path":            a.downloadPath,
		"max_active_downloads": a.maxActiveDownloads,
	}, http.StatusOK)
}

// handleProfile surfaces the Debrid Gateway's account/premium info
// read-only (SPEC_FULL.md §4.3 supplement); it never feeds the state
// machine, just an operator-facing debug view.
func (a *Adapter) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.manager.Profile(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	request.JSONResponse(w, map[string]interface{}{
		"username":      p.Username,
		"is_premium":    p.IsPremium,
		"premium_until": p.PremiumUntil,
	}, http.StatusOK)
}

// handleTorrentsAdd accepts either newline-separated magnet URIs in the
// "urls" form field or uploaded .torrent files in a "torrents" multipart
// field (spec §6), each becoming one Job.
func (a *Adapter) handleTorrentsAdd(w http.ResponseWriter, r *http.Request) {
	log := logger.Default()
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "unrecognized content type", http.StatusUnsupportedMediaType)
		return
	}

	category := r.FormValue("category")
	savePath := r.FormValue("savepath")
	if savePath == "" {
		savePath = filepath.Join(a.downloadPath, category)
	}

	added := false

	if urls := r.FormValue("urls"); urls != "" {
		for _, uri := range strings.Split(urls, "\n") {
			uri = strings.TrimSpace(uri)
			if uri == "" {
				continue
			}

			// Some Sonarr/Radarr configurations send a direct HTTP(S) link
			// to a .torrent file instead of a magnet URI.
			if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
				src, err := magnet.FetchTorrentURL(r.Context(), uri)
				if err != nil {
					log.Warn().Err(err).Str("url", uri).Msg("api: failed to fetch torrent URL on add")
					http.Error(w, "fetching torrent URL: "+err.Error(), http.StatusBadRequest)
					return
				}
				if _, err := a.manager.Add(src.InfoHash, "magnet:?xt=urn:btih:"+src.InfoHash, src.Raw, src.Name, category, savePath); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				added = true
				continue
			}

			src, err := magnet.ParseMagnet(uri)
			if err != nil {
				log.Warn().Err(err).Msg("api: unparsable magnet on add")
				http.Error(w, "invalid magnet: "+err.Error(), http.StatusBadRequest)
				return
			}
			if _, err := a.manager.Add(src.InfoHash, uri, nil, src.Name, category, savePath); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			added = true
		}
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["torrents"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			src, err := magnet.ParseTorrentBytes(data)
			if err != nil {
				log.Warn().Err(err).Str("file", fh.Filename).Msg("api: unparsable torrent file on add")
				http.Error(w, "invalid torrent file: "+err.Error(), http.StatusBadRequest)
				return
			}
			if _, err := a.manager.Add(src.InfoHash, "magnet:?xt=urn:btih:"+src.InfoHash, data, src.Name, category, savePath); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			added = true
		}
	}

	if !added {
		http.Error(w, "no urls or torrents provided", http.StatusBadRequest)
		return
	}
	_, _ = w.Write([]byte("Ok."))
}

func (a *Adapter) handleTorrentsInfo(w http.ResponseWriter, r *http.Request) {
	category := getCategory(r.Context())
	hashes := getHashes(r.Context())
	filter := strings.TrimSpace(r.URL.Query().Get("filter"))

	wanted := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		wanted[h] = true
	}

	records := a.manager.List()
	views := make([]job.View, 0, len(records))
	for _, rec := range records {
		if category != "" && rec.Category != category {
			continue
		}
		if len(wanted) > 0 && !wanted[rec.InfoHash] {
			continue
		}
		v := rec.Snapshot()
		if filter != "" && filter != "all" && stateView(v.State) != filter {
			continue
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].AddedAt.Before(views[j].AddedAt) })

	out := make([]torrentView, len(views))
	for i, v := range views {
		out[i] = newTorrentView(v)
	}
	request.JSONResponse(w, out, http.StatusOK)
}

func (a *Adapter) handleTorrentsDelete(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	deleteFiles := strings.EqualFold(r.FormValue("deleteFiles"), "true")
	for _, hash := range getHashes(r.Context()) {
		_ = a.manager.Delete(hash, deleteFiles)
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) handleTorrentsPause(w http.ResponseWriter, r *http.Request) {
	for _, hash := range getHashes(r.Context()) {
		_ = a.manager.Pause(hash)
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) handleTorrentsResume(w http.ResponseWriter, r *http.Request) {
	for _, hash := range getHashes(r.Context()) {
		_ = a.manager.Resume(hash)
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) handleTorrentProperties(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	rec, ok := a.manager.Get(hash)
	if !ok {
		http.Error(w, "torrent not found", http.StatusNotFound)
		return
	}
	request.JSONResponse(w, newPropertiesView(rec.Snapshot()), http.StatusOK)
}

func (a *Adapter) handleTorrentFiles(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	rec, ok := a.manager.Get(hash)
	if !ok {
		request.JSONResponse(w, []fileView{}, http.StatusOK)
		return
	}
	request.JSONResponse(w, newFileViews(rec.Snapshot()), http.StatusOK)
}

// handleTorrentTrackers always answers with an empty array (spec §6): the
// Debrid Gateway has no tracker concept to report.
func (a *Adapter) handleTorrentTrackers(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, []struct{}{}, http.StatusOK)
}

func formTags(r *http.Request) []string {
	_ = r.ParseForm()
	tags := strings.Split(r.FormValue("tags"), ",")
	for i, t := range tags {
		tags[i] = strings.TrimSpace(t)
	}
	return tags
}

// handleAddTorrentTags assigns tags to every hash in the request (qBittorrent
// addTags, SPEC_FULL.md §6 supplement).
func (a *Adapter) handleAddTorrentTags(w http.ResponseWriter, r *http.Request) {
	tags := formTags(r)
	for _, hash := range getHashes(r.Context()) {
		_ = a.manager.AddTags(hash, tags)
	}
	request.JSONResponse(w, nil, http.StatusOK)
}

// handleRemoveTorrentTags strips tags from every hash in the request
// (qBittorrent removeTags, SPEC_FULL.md §6 supplement).
func (a *Adapter) handleRemoveTorrentTags(w http.ResponseWriter, r *http.Request) {
	tags := formTags(r)
	for _, hash := range getHashes(r.Context()) {
		_ = a.manager.RemoveTags(hash, tags)
	}
	request.JSONResponse(w, nil, http.StatusOK)
}

// handleCreateTags registers tags in the global known-tag set (qBittorrent
// createTags, SPEC_FULL.md §6 supplement).
func (a *Adapter) handleCreateTags(w http.ResponseWriter, r *http.Request) {
	a.manager.CreateTags(formTags(r))
	request.JSONResponse(w, nil, http.StatusOK)
}

// handleGetTags lists the global known-tag set (qBittorrent GET tags,
// SPEC_FULL.md §6 supplement). Mounted at both GET and POST /torrents/tags:
// real qBittorrent clients only ever GET this path, so POST is answered the
// same way rather than aliased onto createTags.
func (a *Adapter) handleGetTags(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, a.manager.Tags(), http.StatusOK)
}
