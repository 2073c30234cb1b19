package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"strings"

	"github.com/flemzord/strmsync/internal/library"
)

// DefaultAdmin is the username created on first boot.
const DefaultAdmin = "admin"

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomPassword returns a password of n characters from a crypto source.
func RandomPassword(n int) (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(passwordAlphabet)))
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("session: random password: %w", err)
		}
		b.WriteByte(passwordAlphabet[i.Int64()])
	}
	return b.String(), nil
}

// EnsureAdmin creates the administrator with a random password when no
// settings exist yet and prints the password once to out.
func EnsureAdmin(ctx context.Context, creds Credentials, out io.Writer) (bool, error) {
	_, ok, err := creds.Settings(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	password, err := RandomPassword(10)
	if err != nil {
		return false, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	if err := creds.SaveSettings(ctx, library.Settings{Username: DefaultAdmin, PasswordHash: hash}); err != nil {
		return false, err
	}
	_, _ = fmt.Fprintf(out, "strmsync: created user %q with password %s\n", DefaultAdmin, password)
	return true, nil
}

// LoadOrCreateSecret returns the signing secret stored at path, generating
// and persisting a random one (mode 0600) when the file does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return []byte(s), nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("session: read secret: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("session: generate secret: %w", err)
	}
	secret := hex.EncodeToString(raw)
	if err := writeFileAtomic(path, []byte(secret+"\n"), 0o600); err != nil {
		return nil, err
	}
	return []byte(secret), nil
}
