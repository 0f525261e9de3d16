package util

import (
	"strconv"
	"strings"
	"time"
)

// TestNowHeader carries a pinned clock in milliseconds. Only honoured when
// test mode is enabled.
const TestNowHeader = "X-Test-Now-Ms"

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// CurrentTime returns override when testMode is set and override parses as
// an integer, wall clock otherwise.
func CurrentTime(testMode bool, override string) int64 {
	if testMode {
		if v, err := strconv.ParseInt(strings.TrimSpace(override), 10, 64); err == nil {
			return v
		}
	}
	return NowMillis()
}

// FormatMillis renders ms as ISO-8601 UTC with millisecond precision.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
