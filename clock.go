package httpcache

import "time"

// nowUnix is overridden in tests that need a fixed clock.
var nowUnix = func() int64 {
	return time.Now().Unix()
}
