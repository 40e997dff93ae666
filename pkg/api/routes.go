package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes builds the qBittorrent-compatible route tree (spec §6), mounted
// at "/api/v2" by the caller (see pkg/server).
func (a *Adapter) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(categoryContext)

	r.Post("/auth/login", a.handleLogin)

	r.Route("/torrents", func(r chi.Router) {
		r.Use(hashesContext)

		r.Get("/info", a.handleTorrentsInfo)
		r.Post("/info", a.handleTorrentsInfo)

		r.Post("/add", a.handleTorrentsAdd)
		r.Post("/delete", a.handleTorrentsDelete)
		r.Post("/pause", a.handleTorrentsPause)
		r.Get("/pause", a.handleTorrentsPause)
		r.Post("/resume", a.handleTorrentsResume)
		r.Get("/resume", a.handleTorrentsResume)

		r.Get("/properties", a.handleTorrentProperties)
		r.Post("/properties", a.handleTorrentProperties)
		r.Get("/files", a.handleTorrentFiles)
		r.Post("/files", a.handleTorrentFiles)
		r.Get("/trackers", a.handleTorrentTrackers)
		r.Post("/trackers", a.handleTorrentTrackers)

		r.Post("/addTags", a.handleAddTorrentTags)
		r.Post("/removeTags", a.handleRemoveTorrentTags)
		r.Post("/createTags", a.handleCreateTags)
		r.Get("/tags", a.handleGetTags)
		r.Post("/tags", a.handleGetTags)
	})

	r.Route("/app", func(r chi.Router) {
		r.Get("/version", a.handleVersion)
		r.Get("/webapiVersion", a.handleWebAPIVersion)
		r.Get("/preferences", a.handlePreferences)
		r.Get("/profile", a.handleProfile)
	})

	return r
}
