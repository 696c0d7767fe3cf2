package acquire

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// VideoID derives a stable identifier for rawURL. YouTube links yield the
// video id; anything else gets a short hash of the URL.
func VideoID(rawURL string) string {
	if id, ok := YouTubeID(rawURL); ok {
		return id
	}
	sum := sha1.Sum([]byte(strings.TrimSpace(rawURL)))
	return hex.EncodeToString(sum[:])[:12]
}

// YouTubeID extracts the id from the common YouTube URL shapes.
func YouTubeID(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var candidate string
	switch host {
	case "youtu.be":
		candidate = firstSegment(u.Path)
	case "youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			candidate = v
			break
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) >= 2 {
			switch segs[0] {
			case "shorts", "embed", "live", "v":
				candidate = segs[1]
			}
		}
	default:
		return "", false
	}

	if youtubeID.MatchString(candidate) {
		return candidate, true
	}
	return "", false
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
