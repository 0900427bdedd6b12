package delta

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"
)

// contentEncoding returns the last, lowercased token of the
// Content-Encoding header, e.g. "gzip, identity" -> "identity".
func contentEncoding(header map[string][]string) string {
	values := header["Content-Encoding"]
	if len(values) == 0 {
		return ""
	}
	last := values[len(values)-1]
	tokens := strings.Split(last, ",")
	return strings.ToLower(strings.TrimSpace(tokens[len(tokens)-1]))
}

// decompressBody undoes a supported Content-Encoding ahead of delta
// encoding, since delta algorithms need the textual similarity
// compression would otherwise hide. Unknown encodings pass through
// untouched.
func decompressBody(body []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return body, nil
	}
}

// recompressBody re-applies encoding on retrieve so callers observe a
// byte-identical body compared to storage time.
func recompressBody(body []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "gzip", "x-gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "deflate":
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return body, nil
	}
}
