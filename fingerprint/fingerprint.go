// Package fingerprint derives the stable, content-addressed cache key used
// throughout the module to identify a request.
package fingerprint

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// separator delimits the fields fed into the digest. It is not a byte that
// can occur unescaped in a method name, URL, or header value, so it cannot
// be used to engineer a collision between adjacent fields.
const separator = 0x00

// Of returns the 40-hex-character fingerprint for req, considering only the
// request headers named in headerSubset (case-insensitive). An empty
// headerSubset (the default) means no header participates in the key.
//
// Two requests that are equivalent under the canonicalisation rules in
// Canonicalize map to the same fingerprint; the fingerprint of a method,
// canonical URL, and body is deterministic across process restarts and
// platforms because it depends only on its inputs and SHA-1.
func Of(req *http.Request, headerSubset []string) string {
	h := sha1.New() //nolint:gosec

	writeField(h, []byte(req.Method))
	writeField(h, []byte(Canonicalize(req.URL)))
	writeField(h, bodyBytes(req))

	for _, name := range sortedHeaderNames(headerSubset) {
		writeField(h, []byte(strings.ToLower(name)))
		writeField(h, []byte(req.Header.Get(name)))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeField appends data to the digest, bracketed by separator bytes so
// that concatenating "ab"+"c" cannot be confused with "a"+"bc".
func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	_, _ = h.Write([]byte{separator})
	_, _ = h.Write(data)
}

// bodyBytes best-effort extracts the request body without consuming it for
// the actual round-trip. Only a request whose GetBody is set contributes a
// body; for any other request no body participates in the fingerprint.
func bodyBytes(req *http.Request) []byte {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		n, err := rc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf
}

func sortedHeaderNames(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = strings.ToLower(name)
	}
	sort.Strings(out)
	return out
}

// Canonicalize renders u the way the fingerprint algorithm consumes it:
// scheme and host lowercased, default port elided, fragment stripped, query
// parameters retained in their given order (not re-sorted), path left
// case-sensitive.
func Canonicalize(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = canonicalHost(c.Scheme, c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
}

func canonicalHost(scheme, host string) string {
	hostname := host
	port := ""
	if idx := strings.LastIndex(host, ":"); idx >= 0 && !strings.Contains(host[idx:], "]") {
		hostname = host[:idx]
		port = host[idx+1:]
	}
	hostname = strings.ToLower(hostname)
	if port != "" && defaultPorts[strings.ToLower(scheme)] == port {
		return hostname
	}
	if port != "" {
		return fmt.Sprintf("%s:%s", hostname, port)
	}
	return hostname
}
