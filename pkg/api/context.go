package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	categoryKey contextKey = "category"
	hashesKey   contextKey = "hashes"
)

// categoryContext extracts "category" from the query string, then form
// and multipart-form bodies, matching every shape Sonarr/Radarr's qBit
// client sends it in across add/info/delete calls.
func categoryContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		if category == "" {
			_ = r.ParseForm()
			category = r.Form.Get("category")
		}
		if category == "" {
			_ = r.ParseMultipartForm(32 << 20)
			category = r.FormValue("category")
		}
		ctx := context.WithValue(r.Context(), categoryKey, strings.TrimSpace(category))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// hashesContext extracts "hashes" (pipe-joined per spec §6) from the URL
// parameter, query string or form body.
func hashesContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "hashes")
		if raw == "" {
			raw = r.URL.Query().Get("hashes")
		}
		var hashes []string
		if raw != "" {
			hashes = strings.Split(raw, "|")
		}
		if hashes == nil {
			_ = r.ParseForm()
			if v := r.Form.Get("hashes"); v != "" {
				hashes = strings.Split(v, "|")
			}
		}
		for i, h := range hashes {
			hashes[i] = strings.TrimSpace(h)
		}
		ctx := context.WithValue(r.Context(), hashesKey, hashes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getCategory(ctx context.Context) string {
	if c, ok := ctx.Value(categoryKey).(string); ok {
		return c
	}
	return ""
}

func getHashes(ctx context.Context) []string {
	if h, ok := ctx.Value(hashesKey).([]string); ok {
		return h
	}
	return nil
}
