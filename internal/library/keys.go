package library

import (
	"crypto/md5" //nolint:gosec // keys are identifiers, not secrets
	"encoding/hex"
	"regexp"
	"time"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// DeriveKey returns the stable key of a directory path or account name.
func DeriveKey(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ValidKey reports whether key is safe to use as a file name component.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// timestampLayout is the persisted timestamp format, in China Standard Time.
const timestampLayout = "2006-01-02 15:04:05"

var cst = time.FixedZone("CST", 8*60*60)

// FormatTime formats t the way timestamps are persisted.
func FormatTime(t time.Time) string {
	return t.In(cst).Format(timestampLayout)
}
