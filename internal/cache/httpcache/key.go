package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Key generates the storage key of a request in the named cache.
// Two requests share a key iff their method and URL match.
//
// Layout: cacheName/host/path/METHOD[_slash][_qqueryhash].bin
func Key(cacheName, method, host, urlPath, rawQuery string) string {
	host = strings.TrimSuffix(strings.TrimSuffix(host, ":80"), ":443")
	pathParts := []string{cacheName, host}

	cleaned := path.Clean("/" + urlPath)
	if cleaned != "/" {
		pathParts = append(pathParts, strings.Trim(cleaned, "/"))
	}

	filename := strings.ToUpper(method)
	if urlPath != "/" && strings.HasSuffix(urlPath, "/") {
		filename += "_slash"
	}
	if rawQuery != "" {
		hash := sha256.Sum256([]byte(rawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:16]
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)
	return strings.Join(pathParts, "/")
}
