// Package magnet parses magnet URIs and .torrent files down to the
// information the Job Manager needs: info-hash, display name and,
// for multi-file torrents, the declared total size.
package magnet

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/cavaliergopher/grab/v3"
)

var hexRegex = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// Source is a parsed magnet or .torrent, reduced to what the Job Manager
// needs to create a Job.
type Source struct {
	InfoHash string // 40-char lowercase hex
	Name     string // best-known display name, may be empty
	Size     int64  // declared total size; 0 if unknown (typical for magnets)
	Raw      []byte // original .torrent bytes, retained for re-submission
}

// ParseMagnet extracts the info-hash and display name from a magnet URI.
// It does not contact the network.
func ParseMagnet(uri string) (*Source, error) {
	if !strings.HasPrefix(uri, "magnet:") {
		return nil, fmt.Errorf("not a magnet URI")
	}
	mi, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing magnet link: %w", err)
	}
	hash, err := NormalizeInfoHash(mi.InfoHash.HexString())
	if err != nil {
		return nil, err
	}
	return &Source{
		InfoHash: hash,
		Name:     mi.DisplayName,
	}, nil
}

// ParseTorrentBytes extracts the info-hash, name and total size from raw
// bencoded .torrent file content.
func ParseTorrentBytes(data []byte) (*Source, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing torrent file: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("reading torrent info dict: %w", err)
	}
	hash := mi.HashInfoBytes().HexString()
	size := info.Length
	if size == 0 && len(info.Files) > 0 {
		for _, f := range info.Files {
			size += f.Length
		}
	}
	return &Source{
		InfoHash: hash,
		Name:     info.Name,
		Size:     size,
		Raw:      data,
	}, nil
}

// FetchTorrentURL downloads a remote .torrent file (the non-magnet add path
// some Sonarr/Radarr configurations use) and parses it. It uses grab rather
// than a bare http.Get because grab already enforces the destination-file
// semantics (temp-file-then-rename, size checking) this one-shot download
// needs without pulling in the Downloader's own ring-buffer machinery.
func FetchTorrentURL(ctx context.Context, url string) (*Source, error) {
	tmpDir, err := os.MkdirTemp("", "flowgate-torrent-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	req, err := grab.NewRequest(tmpDir, url)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	client.HTTPClient.Timeout = 30 * time.Second
	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("fetching torrent URL: %w", err)
	}

	f, err := os.Open(resp.Filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return ParseTorrentBytes(data)
}

// NormalizeInfoHash accepts either a 40-char hex info-hash or a 32-char
// base32 encoding of the same 20 bytes (both legal per the magnet URI spec's
// urn:btih component) and returns lowercase hex.
func NormalizeInfoHash(input string) (string, error) {
	if hexRegex.MatchString(input) {
		return strings.ToLower(input), nil
	}
	if len(input) == 32 {
		padded := strings.ToUpper(strings.TrimRight(input, "="))
		decoded, err := base32.StdEncoding.DecodeString(padded)
		if err == nil && len(decoded) == 20 {
			return hex.EncodeToString(decoded), nil
		}
	}
	return "", fmt.Errorf("invalid info-hash: %q", input)
}

// ExtractInfoHash pulls the urn:btih component out of a raw magnet
// description string, normalizing it to lowercase hex.
func ExtractInfoHash(magnetDesc string) (string, error) {
	const prefix = "xt=urn:btih:"
	start := strings.Index(magnetDesc, prefix)
	if start == -1 {
		return "", fmt.Errorf("no urn:btih component in %q", magnetDesc)
	}
	start += len(prefix)
	rest := magnetDesc[start:]
	end := strings.IndexAny(rest, "&#")
	raw := rest
	if end != -1 {
		raw = rest[:end]
	}
	return NormalizeInfoHash(raw)
}
