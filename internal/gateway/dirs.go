package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/flemzord/strmsync/internal/security"
)

type dirRequest struct {
	BaseDir string `json:"base_dir"`
}

// handleListDirs lists the entries of base_dir that are not regular files,
// so symlinks to directories are included. base_dir defaults to the browse
// root, or / without one.
func (g *Gateway) handleListDirs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dirRequest
		if err := g.readOptionalJSON(r, &req); err != nil {
			g.failErr(w, r, err)
			return
		}
		base := req.BaseDir
		if base == "" {
			base = g.config.BrowseRoot
		}
		if base == "" {
			base = "/"
		}

		resolved, err := security.ValidatePath(g.config.BrowseRoot, base)
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		entries, err := os.ReadDir(resolved)
		if err != nil {
			fail(w, http.StatusBadRequest, "cannot list "+base)
			return
		}

		dirs := []string{}
		for _, e := range entries {
			info, err := os.Stat(filepath.Join(resolved, e.Name()))
			if err != nil || !info.Mode().IsRegular() {
				dirs = append(dirs, e.Name())
			}
		}
		slices.Sort(dirs)
		ok(w, "", dirs)
	}
}

// readOptionalJSON decodes the request body into v, leaving v untouched
// when the body is empty.
func (g *Gateway) readOptionalJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(g.config.MaxBodyBytes)+1))
	if err != nil {
		return fmt.Errorf("%w: %w", security.ErrInvalidJSON, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return security.ReadJSONBody(bytes.NewReader(data), g.config.MaxBodyBytes, v)
}
