package http

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/importer"
	"github.com/knowting/knowting/internal/quiz"
)

const maxImportBytes = 8 << 20

// ImportTestHandler creates a test from an uploaded JSON or YAML document.
// The whole document is validated first; a bad question rejects the upload
// without side effects.
func ImportTestHandler(imp *importer.Importer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
		if err != nil {
			http.Error(w, "read body", 400)
			return
		}
		if len(data) == 0 {
			http.Error(w, "empty body", 400)
			return
		}
		ownerID := authmw.SubjectFromContext(r.Context())
		ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		var t quiz.Test
		if strings.Contains(ct, "yaml") {
			t, err = imp.ImportYAML(r.Context(), data, ownerID)
		} else {
			t, err = imp.ImportJSON(r.Context(), data, ownerID)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(t)
	}
}

// RescanImportsHandler triggers an immediate scan of the import directory.
// Admin only; 404s when no directory is configured.
func RescanImportsHandler(watcher *importer.Watcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if watcher == nil {
			http.Error(w, "import directory not configured", 404)
			return
		}
		watcher.Scan(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}
}
