package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	certerrors "certitrack/internal/errors"
	"certitrack/internal/inventory"
	"certitrack/internal/notify"
	"certitrack/internal/store"
)

// RegisterNotificationRoutes mounts rule management and the manual check
// trigger. checker is nil when notifications are disabled.
func RegisterNotificationRoutes(r chi.Router, s *store.Store, checker *notify.Checker) {
	r.Get("/api/notifications/rules", func(w http.ResponseWriter, req *http.Request) {
		rules, err := s.ListRules(req.Context())
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "failed to list notification rules")
			return
		}
		respondJSON(w, req, http.StatusOK, rules)
	})

	r.Get("/api/notifications/rules/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, ok := parseID(w, req)
		if !ok {
			return
		}
		rule, err := s.GetRule(req.Context(), id)
		if errors.Is(err, certerrors.ErrRuleNotFound) {
			fail(w, req, http.StatusNotFound, err, "rule not found")
			return
		}
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "failed to load rule")
			return
		}
		respondJSON(w, req, http.StatusOK, rule)
	})

	r.Post("/api/notifications/rules", func(w http.ResponseWriter, req *http.Request) {
		var rule inventory.NotificationRule
		if err := json.NewDecoder(req.Body).Decode(&rule); err != nil {
			fail(w, req, http.StatusBadRequest, err, "invalid rule payload")
			return
		}
		if rule.DaysBeforeExpiration <= 0 {
			fail(w, req, http.StatusBadRequest, nil, "rule threshold must be positive")
			return
		}
		if err := s.SaveRule(req.Context(), &rule); err != nil {
			fail(w, req, http.StatusInternalServerError, err, "failed to save rule")
			return
		}
		respondJSON(w, req, http.StatusCreated, rule)
	})

	r.Post("/api/notifications/summary", func(w http.ResponseWriter, req *http.Request) {
		if checker == nil {
			fail(w, req, http.StatusConflict, certerrors.ErrNotificationsOff, "notifications are disabled")
			return
		}
		if err := checker.SendDailySummary(req.Context()); err != nil {
			fail(w, req, http.StatusInternalServerError, err, "daily summary failed")
			return
		}
		respondJSON(w, req, http.StatusOK, map[string]string{"status": "sent"})
	})

	r.Post("/api/notifications/run", func(w http.ResponseWriter, req *http.Request) {
		if checker == nil {
			fail(w, req, http.StatusConflict, certerrors.ErrNotificationsOff, "notifications are disabled")
			return
		}

		opts := notify.Options{
			Force:  boolParam(req, "force"),
			DryRun: boolParam(req, "dry_run"),
		}
		summary, err := checker.Run(req.Context(), opts)
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "expiration check failed")
			return
		}
		respondJSON(w, req, http.StatusOK, summary)
	})
}

func boolParam(req *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(req.URL.Query().Get(name))) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
