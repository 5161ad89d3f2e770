package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"certitrack/config"
	"certitrack/internal/csvimport"
	"certitrack/internal/inventory"
	"certitrack/internal/store"
)

// maxImportMemory bounds the multipart form buffer.
const maxImportMemory = 10 << 20

// RegisterImportRoutes mounts the CSV reconciliation API. Analyze is a
// read-only preview; commit applies the classified batch in one
// transaction.
func RegisterImportRoutes(r chi.Router, s *store.Store, cfg config.ImportConfig) {
	r.Post("/api/import/analyze", func(w http.ResponseWriter, req *http.Request) {
		batch, _, ok := analyzeUpload(w, req, s, cfg)
		if !ok {
			return
		}
		respondJSON(w, req, http.StatusOK, batch)
	})

	r.Post("/api/import/commit", func(w http.ResponseWriter, req *http.Request) {
		batch, env, ok := analyzeUpload(w, req, s, cfg)
		if !ok {
			return
		}

		outcome, err := s.ApplyImport(req.Context(), batch, env)
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "import commit failed")
			return
		}

		respondJSON(w, req, http.StatusOK, map[string]any{
			"summary": batch.Summary,
			"outcome": outcome,
			"results": batch.Results,
		})
	})
}

// analyzeUpload parses the uploaded file and classifies it against a
// fresh inventory snapshot. On failure it writes the error response and
// returns ok=false.
func analyzeUpload(w http.ResponseWriter, req *http.Request, s *store.Store, cfg config.ImportConfig) (csvimport.BatchResult, inventory.Environment, bool) {
	file, params, err := uploadReader(req, cfg)
	if err != nil {
		fail(w, req, http.StatusBadRequest, err, "invalid import upload")
		return csvimport.BatchResult{}, "", false
	}
	defer func() { _ = file.Close() }()

	delimiter, err := csvimport.ParseDelimiter(params.delimiter)
	if err != nil {
		fail(w, req, http.StatusBadRequest, err, "invalid import delimiter")
		return csvimport.BatchResult{}, "", false
	}

	observations, err := csvimport.NewParser(delimiter, params.hasHeader).Parse(file)
	if err != nil {
		fail(w, req, http.StatusBadRequest, err, "unreadable import file")
		return csvimport.BatchResult{}, "", false
	}

	snapshot, err := s.ListActive(req.Context())
	if err != nil {
		fail(w, req, http.StatusInternalServerError, err, "failed to load inventory snapshot")
		return csvimport.BatchResult{}, "", false
	}

	batch := csvimport.NewAnalyzer(snapshot).ClassifyBatch(observations)
	return batch, params.environment, true
}

type uploadParams struct {
	delimiter   string
	hasHeader   bool
	environment inventory.Environment
}

// uploadReader extracts the CSV stream: a multipart "file" field when
// present, the raw request body otherwise. Options come from form values
// or query parameters, falling back to the configured defaults.
func uploadReader(req *http.Request, cfg config.ImportConfig) (io.ReadCloser, uploadParams, error) {
	params := uploadParams{
		delimiter: cfg.Delimiter,
		hasHeader: cfg.HasHeader,
	}

	contentType := req.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := req.ParseMultipartForm(maxImportMemory); err != nil {
			return nil, params, err
		}
		file, _, err := req.FormFile("file")
		if err != nil {
			return nil, params, err
		}
		applyParam(req.FormValue("delimiter"), &params.delimiter)
		applyHeaderParam(req.FormValue("has_header"), &params.hasHeader)
		params.environment = inventory.Environment(strings.TrimSpace(req.FormValue("environment")))
		return file, params, nil
	}

	applyParam(req.URL.Query().Get("delimiter"), &params.delimiter)
	applyHeaderParam(req.URL.Query().Get("has_header"), &params.hasHeader)
	params.environment = inventory.Environment(strings.TrimSpace(req.URL.Query().Get("environment")))
	return req.Body, params, nil
}

func applyParam(value string, dst *string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func applyHeaderParam(value string, dst *bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		*dst = true
	case "false", "0", "no":
		*dst = false
	}
}
