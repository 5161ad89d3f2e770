package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"certitrack/config"
	"certitrack/internal/enrich"
	"certitrack/internal/inventory"
	"certitrack/internal/scanner"
	"certitrack/internal/store"
	"certitrack/internal/validation"
)

type scanRequest struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Environment    string `json:"environment"`
}

type batchScanRequest struct {
	Hosts          []string `json:"hosts"`
	Port           int      `json:"port"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
	Environment    string   `json:"environment"`
}

type scanFailure struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type scanResponse struct {
	Success     bool                         `json:"success"`
	Host        string                       `json:"host"`
	Port        int                          `json:"port"`
	Certificate *inventory.CertificateRecord `json:"certificate,omitempty"`
	Created     bool                         `json:"created,omitempty"`
	Error       *scanFailure                 `json:"error,omitempty"`
}

// RegisterScanRoutes mounts the endpoint scan API.
func RegisterScanRoutes(r chi.Router, s *store.Store, cfg config.ScanConfig, enricher *enrich.Enricher) {
	r.Post("/api/scan", func(w http.ResponseWriter, req *http.Request) {
		var body scanRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			fail(w, req, http.StatusBadRequest, err, "invalid scan request payload")
			return
		}

		target, err := buildTarget(body.Host, body.Port, body.TimeoutSeconds, cfg)
		if err != nil {
			fail(w, req, http.StatusBadRequest, err, "invalid scan target")
			return
		}

		response := runAndPersist(req.Context(), s, target, inventory.Environment(body.Environment))
		respondJSON(w, req, http.StatusOK, response)
	})

	r.Post("/api/scan/batch", func(w http.ResponseWriter, req *http.Request) {
		var body batchScanRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			fail(w, req, http.StatusBadRequest, err, "invalid batch scan payload")
			return
		}

		hosts, err := validation.ValidateBatch(body.Hosts)
		if err != nil {
			fail(w, req, http.StatusBadRequest, err, "invalid batch host list")
			return
		}

		targets := make([]scanner.Target, 0, len(hosts))
		for _, host := range hosts {
			target, buildErr := buildTarget(host, body.Port, body.TimeoutSeconds, cfg)
			if buildErr != nil {
				fail(w, req, http.StatusBadRequest, buildErr, "invalid batch scan target")
				return
			}
			targets = append(targets, target)
		}

		results := scanner.ScanMany(req.Context(), targets, cfg.Concurrency, log.Logger)
		responses := make([]scanResponse, 0, len(results))
		succeeded := 0
		for _, result := range results {
			if result.Err != nil {
				responses = append(responses, failureResponse(result.Target, result.Err))
				continue
			}
			response := persistResponse(req.Context(), s, result.Target, *result.Info, inventory.Environment(body.Environment))
			if response.Success {
				succeeded++
			}
			responses = append(responses, response)
		}

		respondJSON(w, req, http.StatusOK, map[string]any{
			"total":     len(responses),
			"succeeded": succeeded,
			"failed":    len(responses) - succeeded,
			"results":   responses,
		})
	})

	r.Post("/api/scan/enrich", func(w http.ResponseWriter, req *http.Request) {
		summary, err := enricher.Run(req.Context())
		if err != nil {
			fail(w, req, http.StatusInternalServerError, err, "enrichment pass failed")
			return
		}
		respondJSON(w, req, http.StatusOK, summary)
	})
}

func buildTarget(host string, port, timeoutSeconds int, cfg config.ScanConfig) (scanner.Target, error) {
	if err := validation.ValidateHost(host); err != nil {
		return scanner.Target{}, err
	}
	if err := validation.ValidatePort(port); err != nil {
		return scanner.Target{}, err
	}
	if port == 0 {
		port = cfg.DefaultPort
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if err := validation.ValidateTimeout(timeout); err != nil {
		return scanner.Target{}, err
	}
	if timeout == 0 {
		timeout = cfg.Timeout
	}

	return scanner.Target{
		Host:        host,
		Port:        port,
		Timeout:     timeout,
		VerifyChain: cfg.VerifyChain,
	}, nil
}

func runAndPersist(ctx context.Context, s *store.Store, target scanner.Target, env inventory.Environment) scanResponse {
	info, err := scanner.Scan(ctx, target)
	if err != nil {
		_ = s.StampScanFailure(ctx, target.Host, err)
		return failureResponse(target, err)
	}
	return persistResponse(ctx, s, target, info, env)
}

func persistResponse(ctx context.Context, s *store.Store, target scanner.Target, info scanner.CertInfo, env inventory.Environment) scanResponse {
	record, created, err := s.UpsertScan(ctx, target, info, env)
	if err != nil {
		return scanResponse{
			Success: false,
			Host:    target.Host,
			Port:    target.Port,
			Error:   &scanFailure{Kind: "storage", Detail: err.Error()},
		}
	}
	return scanResponse{
		Success:     true,
		Host:        target.Host,
		Port:        target.Port,
		Certificate: record,
		Created:     created,
	}
}

func failureResponse(target scanner.Target, err error) scanResponse {
	response := scanResponse{Success: false, Host: target.Host, Port: target.Port}

	var scanErr *scanner.ScanError
	if errors.As(err, &scanErr) {
		response.Error = &scanFailure{Kind: string(scanErr.Kind), Detail: scanErr.Detail}
	} else {
		response.Error = &scanFailure{Kind: string(scanner.KindUnexpected), Detail: err.Error()}
	}
	return response
}

