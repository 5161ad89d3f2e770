package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
	"certitrack/internal/store"
)

// RegisterCertificateRoutes mounts the inventory query API.
func RegisterCertificateRoutes(r chi.Router, s *store.Store) {
	r.Get("/api/certificates", func(w http.ResponseWriter, req *http.Request) {
		var (
			records []inventory.CertificateRecord
			err     error
		)
		if statusParam := strings.TrimSpace(req.URL.Query().Get("status")); statusParam != "" {
			statuses := make([]inventory.Status, 0, 2)
			for _, part := range strings.Split(statusParam, ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					statuses = append(statuses, inventory.Status(trimmed))
				}
			}
			records, err = s.ListByStatus(req.Context(), statuses...)
		} else {
			records, err = s.ListActive(req.Context())
		}
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "failed to list certificates")
			return
		}
		respondJSON(w, req, http.StatusOK, records)
	})

	r.Get("/api/certificates/{id}", func(w http.ResponseWriter, req *http.Request) {
		record, ok := lookupRecord(w, req, s)
		if !ok {
			return
		}
		respondJSON(w, req, http.StatusOK, record)
	})

	r.Post("/api/certificates/{id}/revoke", func(w http.ResponseWriter, req *http.Request) {
		record, ok := lookupRecord(w, req, s)
		if !ok {
			return
		}

		// Revocation is a manual, sticky state change.
		record.Status = inventory.StatusRevoked
		if err := s.Update(req.Context(), record); err != nil {
			fail(w, req, http.StatusInternalServerError, err, "failed to revoke certificate")
			return
		}
		respondJSON(w, req, http.StatusOK, record)
	})

	r.Post("/api/certificates/{id}/archive", func(w http.ResponseWriter, req *http.Request) {
		id, ok := parseID(w, req)
		if !ok {
			return
		}
		if err := s.Archive(req.Context(), id); err != nil {
			if errors.Is(err, certerrors.ErrCertificateNotFound) {
				fail(w, req, http.StatusNotFound, err, "certificate not found")
				return
			}
			fail(w, req, http.StatusInternalServerError, err, "failed to archive certificate")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/certificates/{id}/notifications", func(w http.ResponseWriter, req *http.Request) {
		record, ok := lookupRecord(w, req, s)
		if !ok {
			return
		}
		entries, err := s.LogForCertificate(req.Context(), record.ID)
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "failed to read notification log")
			return
		}
		respondJSON(w, req, http.StatusOK, entries)
	})

	r.Post("/api/certificates/recompute", func(w http.ResponseWriter, req *http.Request) {
		updated, failed, err := s.RecomputeAll(req.Context())
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "status recompute failed")
			return
		}
		respondJSON(w, req, http.StatusOK, map[string]int{
			"updated": updated,
			"failed":  failed,
		})
	})
}

func parseID(w http.ResponseWriter, req *http.Request) (uint, bool) {
	raw := chi.URLParam(req, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		fail(w, req, http.StatusBadRequest, err, "invalid certificate id")
		return 0, false
	}
	return uint(id), true
}

func lookupRecord(w http.ResponseWriter, req *http.Request, s *store.Store) (*inventory.CertificateRecord, bool) {
	id, ok := parseID(w, req)
	if !ok {
		return nil, false
	}
	record, err := s.GetByID(req.Context(), id)
	if err != nil {
		if errors.Is(err, certerrors.ErrCertificateNotFound) {
			fail(w, req, http.StatusNotFound, err, "certificate not found")
			return nil, false
		}
		fail(w, req, http.StatusInternalServerError, err, "failed to load certificate")
		return nil, false
	}
	return record, true
}
