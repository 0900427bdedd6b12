package httpcache

import (
	"os"
	"strconv"
	"strings"
)

// Config enumerates the HTTPCACHE_* settings a crawler embedding this cache
// exposes (§6). A crawler's own configuration loader is out of scope; this
// struct and FromEnv exist only so the documented keys have somewhere to
// land.
type Config struct {
	Enabled bool

	// Dir is the base directory for file-based backends.
	Dir string

	// Storage names the backend to construct (e.g. "filesystem", "leveldb",
	// "delta", "sql", "document", "redis", ...).
	Storage string

	// Policy selects "dummy" or "rfc2616".
	Policy string

	ExpirationSecs int64
	AlwaysStore    bool

	IgnoreHTTPCodes             []int
	IgnoreSchemes               []string
	IgnoreResponseCacheControls []string

	// Gzip enables per-file gzip compression; filesystem backend only.
	Gzip bool

	// DBMModule and DBModule name a DBM/KV implementation to select among
	// storage/kvbackend's adapters.
	DBMModule string
	DBModule  string

	// MongoURI and Sharded configure the document-store backend.
	MongoURI string
	Sharded  bool
}

// DefaultConfig returns the documented defaults: disabled, dir "httpcache",
// no expiration, ignore_schemes={"file"}.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Dir:            "httpcache",
		ExpirationSecs: 0,
		AlwaysStore:    false,
		IgnoreSchemes:  []string{"file"},
	}
}

// FromEnv reads the HTTPCACHE_* environment variables on top of
// DefaultConfig, leaving any unset variable at its default.
func FromEnv() Config {
	c := DefaultConfig()

	if v, ok := os.LookupEnv("HTTPCACHE_ENABLED"); ok {
		c.Enabled = parseBool(v, c.Enabled)
	}
	if v, ok := os.LookupEnv("HTTPCACHE_DIR"); ok && v != "" {
		c.Dir = v
	}
	if v, ok := os.LookupEnv("HTTPCACHE_STORAGE"); ok {
		c.Storage = v
	}
	if v, ok := os.LookupEnv("HTTPCACHE_POLICY"); ok {
		c.Policy = v
	}
	if v, ok := os.LookupEnv("HTTPCACHE_EXPIRATION_SECS"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.ExpirationSecs = n
		}
	}
	if v, ok := os.LookupEnv("HTTPCACHE_ALWAYS_STORE"); ok {
		c.AlwaysStore = parseBool(v, c.AlwaysStore)
	}
	if v, ok := os.LookupEnv("HTTPCACHE_IGNORE_HTTP_CODES"); ok {
		c.IgnoreHTTPCodes = parseIntList(v)
	}
	if v, ok := os.LookupEnv("HTTPCACHE_IGNORE_SCHEMES"); ok {
		c.IgnoreSchemes = parseStringList(v)
	}
	if v, ok := os.LookupEnv("HTTPCACHE_IGNORE_RESPONSE_CACHE_CONTROLS"); ok {
		c.IgnoreResponseCacheControls = parseStringList(v)
	}
	if v, ok := os.LookupEnv("HTTPCACHE_GZIP"); ok {
		c.Gzip = parseBool(v, c.Gzip)
	}
	if v, ok := os.LookupEnv("HTTPCACHE_DBM_MODULE"); ok {
		c.DBMModule = v
	}
	if v, ok := os.LookupEnv("HTTPCACHE_DB_MODULE"); ok {
		c.DBModule = v
	}
	if v, ok := os.LookupEnv("HTTPCACHE_MONGO_URI"); ok {
		c.MongoURI = v
	}
	if v, ok := os.LookupEnv("HTTPCACHE_SHARDED"); ok {
		c.Sharded = parseBool(v, c.Sharded)
	}

	return c
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func parseIntList(v string) []int {
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseStringList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
