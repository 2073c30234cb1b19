package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flemzord/strmsync/internal/fault"
)

// sensitiveEnvPrefixes are stripped from the environment of job processes.
// The job reads what it needs from the database.
var sensitiveEnvPrefixes = []string{
	"STRMSYNC_SECRET",
	"STRMSYNC_ADMIN_",
	"TELEGRAM_",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
}

var sensitiveEnvExact = map[string]struct{}{
	"DATABASE_URL": {},
	"DB_PASSWORD":  {},
}

// SanitizedEnv returns os.Environ() without sensitive variables. Values of
// store that appear in the remaining variables are redacted.
func SanitizedEnv(store *CredentialStore) []string {
	env := os.Environ()
	result := make([]string, 0, len(env))

	var secrets []string
	if store != nil {
		secrets = store.Values()
	}

	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || isSensitiveEnvVar(key) {
			continue
		}
		for _, secret := range secrets {
			if len(secret) >= minLiteralLen && strings.Contains(entry, secret) {
				entry = strings.ReplaceAll(entry, secret, RedactPlaceholder)
			}
		}
		result = append(result, entry)
	}
	return result
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// ErrRestrictedPath is returned for paths outside the browsable tree or
// inside /proc, /sys or /dev.
var ErrRestrictedPath = fault.New(fault.Validation, "access to this path is not allowed")

// ValidatePath resolves path (absolute, symlinks followed best-effort) and
// checks that it lies under root and outside the kernel pseudo filesystems.
// An empty root allows the whole filesystem. The resolved path is returned.
func ValidatePath(root, path string) (string, error) {
	resolved := resolve(path)

	for _, prefix := range []string{"/proc", "/sys", "/dev"} {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+"/") {
			return "", fmt.Errorf("%w: %s", ErrRestrictedPath, path)
		}
	}

	if root != "" {
		base := resolve(root)
		rel, err := filepath.Rel(base, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s is outside %s", ErrRestrictedPath, path, root)
		}
	}
	return resolved, nil
}

func resolve(path string) string {
	cleaned := filepath.Clean(path)
	if abs, err := filepath.Abs(cleaned); err == nil {
		cleaned = abs
	}
	if r, err := filepath.EvalSymlinks(cleaned); err == nil {
		cleaned = r
	}
	return cleaned
}
