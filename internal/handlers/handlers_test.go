package handlers_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certitrack/config"
	"certitrack/internal/enrich"
	"certitrack/internal/handlers"
	"certitrack/internal/inventory"
	"certitrack/internal/notify"
	"certitrack/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "certitrack.db")
	s, err := store.Open("sqlite", dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRouter(s *store.Store, checker *notify.Checker) chi.Router {
	r := chi.NewRouter()
	scanCfg := config.ScanConfig{
		DefaultPort: 443,
		Timeout:     3 * time.Second,
		Concurrency: 4,
	}
	enricher := enrich.New(s, scanCfg, enrich.DefaultBatchSize, zerolog.Nop())
	handlers.RegisterScanRoutes(r, s, scanCfg, enricher)
	handlers.RegisterImportRoutes(r, s, config.ImportConfig{Delimiter: "comma", HasHeader: false})
	handlers.RegisterCertificateRoutes(r, s)
	handlers.RegisterNotificationRoutes(r, s, checker)
	handlers.RegisterHealthRoutes(r, s)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func seedRecord(t *testing.T, s *store.Store, name string, daysUntilExpiry int) inventory.CertificateRecord {
	t.Helper()
	until := time.Now().UTC().AddDate(0, 0, daysUntilExpiry)
	record := inventory.CertificateRecord{CommonName: name, ValidUntil: &until}
	require.NoError(t, s.Create(context.Background(), &record))
	return record
}

func startTLSServer(t *testing.T) (host string, port int) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(0xBEEF),
		Subject:               pkix.Name{CommonName: "scanned.example.test"},
		DNSNames:              []string{"scanned.example.test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(60 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				if tlsConn, ok := c.(*tls.Conn); ok {
					_ = tlsConn.Handshake()
				}
				_ = c.Close()
			}(conn)
		}
	}()

	hostPart, portPart, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(portPart)
	require.NoError(t, err)
	return hostPart, portNum
}

func TestScan_PersistsCertificate(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)
	host, port := startTLSServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/scan", map[string]any{
		"host": host,
		"port": port,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Success     bool                         `json:"success"`
		Created     bool                         `json:"created"`
		Certificate *inventory.CertificateRecord `json:"certificate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.True(t, response.Success)
	assert.True(t, response.Created)
	require.NotNil(t, response.Certificate)
	assert.Equal(t, "scanned.example.test", response.Certificate.CommonName)
	assert.Equal(t, inventory.ImportScan, response.Certificate.ImportMethod)
	assert.Equal(t, inventory.StatusActive, response.Certificate.Status)
	assert.False(t, response.Certificate.NeedsEnrichment)

	// Rescan updates in place instead of duplicating.
	rec = doJSON(t, router, http.MethodPost, "/api/scan", map[string]any{
		"host": host,
		"port": port,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.True(t, response.Success)
	assert.False(t, response.Created)

	active, err := s.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestScan_RejectsEmptyHost(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/scan", map[string]any{"host": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScan_UnreachableHostReportsErrorKind(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	// Grab a port nothing listens on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	_, portPart, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portPart)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/scan", map[string]any{
		"host": "127.0.0.1",
		"port": port,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Success bool `json:"success"`
		Error   *struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.False(t, response.Success)
	require.NotNil(t, response.Error)
	assert.NotEmpty(t, response.Error.Kind)
}

func TestScanBatch_MixedResults(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)
	host, port := startTLSServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/scan/batch", map[string]any{
		"hosts": []string{host},
		"port":  port,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Total)
	assert.Equal(t, 1, response.Succeeded)

	rec = doJSON(t, router, http.MethodPost, "/api/scan/batch", map[string]any{"hosts": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportAnalyze_ClassifiesWithoutWriting(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "existing.example.test", 30)
	router := newRouter(s, nil)

	until := time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")
	csv := fmt.Sprintf("new.example.test,CA,%s,,,,\nexisting.example.test,CA,%s,,,,\n", until, until)

	req := httptest.NewRequest(http.MethodPost, "/api/import/analyze", strings.NewReader(csv))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var batch struct {
		Summary struct {
			New       int `json:"new"`
			Duplicate int `json:"duplicate"`
			Total     int `json:"total"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 1, batch.Summary.New)
	assert.Equal(t, 1, batch.Summary.Duplicate)
	assert.Equal(t, 2, batch.Summary.Total)

	// Analysis is a preview; nothing was created.
	active, err := s.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestImportCommit_AppliesBatch(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	until := time.Now().UTC().AddDate(0, 0, 45).Format("2006-01-02")
	csv := fmt.Sprintf("imported.example.test,Internal-CA,%s,,,,\n", until)

	req := httptest.NewRequest(http.MethodPost, "/api/import/commit?environment=prod", strings.NewReader(csv))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Outcome struct {
			Created int `json:"created"`
		} `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Outcome.Created)

	active, err := s.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "imported.example.test", active[0].CommonName)
	assert.Equal(t, inventory.EnvProduction, active[0].Environment)
	assert.Equal(t, inventory.ImportCSV, active[0].ImportMethod)
}

func TestImportAnalyze_BadDelimiter(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/import/analyze?delimiter=pipe", strings.NewReader("a,b\n"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCertificates_ListAndFilter(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "soon.example.test", 5)
	seedRecord(t, s, "later.example.test", 90)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/certificates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []inventory.CertificateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec = doJSON(t, router, http.MethodGet, "/api/certificates?status=expiring_soon", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "soon.example.test", records[0].CommonName)
}

func TestCertificates_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/certificates/4242", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCertificates_RevokeIsSticky(t *testing.T) {
	s := newTestStore(t)
	record := seedRecord(t, s, "revoke.example.test", 90)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/certificates/%d/revoke", record.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Recompute keeps the revoked status.
	rec = doJSON(t, router, http.MethodPost, "/api/certificates/recompute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := s.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusRevoked, got.Status)
}

func TestCertificates_Archive(t *testing.T) {
	s := newTestStore(t)
	record := seedRecord(t, s, "old.example.test", 90)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/certificates/%d/archive", record.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/certificates/999/archive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications_RuleLifecycleAndRun(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "alert.example.test", 5)

	mailer := new(notify.MockMailer)
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	checker := notify.NewChecker(s, mailer, []string{"ops@example.test"}, zerolog.Nop())
	router := newRouter(s, checker)

	rec := doJSON(t, router, http.MethodPost, "/api/notifications/rules", map[string]any{
		"name":                 "monthly",
		"daysBeforeExpiration": 30,
		"active":               true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/notifications/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []inventory.NotificationRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)

	rec = doJSON(t, router, http.MethodPost, "/api/notifications/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary notify.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.EmailsSent)
	mailer.AssertExpectations(t)
}

func TestNotifications_RejectsInvalidRule(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/notifications/rules", map[string]any{
		"name":                 "bad",
		"daysBeforeExpiration": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications_RunDisabled(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/notifications/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}

func TestScanEnrich_RescansFlaggedRecords(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)
	host, port := startTLSServer(t)

	until := time.Now().UTC().AddDate(0, 0, 45)
	record := inventory.CertificateRecord{
		CommonName:      host,
		ValidUntil:      &until,
		ImportMethod:    inventory.ImportCSV,
		NeedsEnrichment: true,
		ScanPort:        port,
	}
	require.NoError(t, s.Create(context.Background(), &record))

	rec := doJSON(t, router, http.MethodPost, "/api/scan/enrich", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Candidates int `json:"candidates"`
		Enriched   int `json:"enriched"`
		Failed     int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Enriched)

	got, err := s.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsEnrichment)
	require.NotNil(t, got.SerialNumber)
}

func TestNotificationsSummary_SendsDigest(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "soon.example.test", 5)

	mailer := new(notify.MockMailer)
	mailer.On("Send", []string{"ops@example.test"}, mock.Anything, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "soon.example.test")
	})).Return(nil).Once()

	checker := notify.NewChecker(s, mailer, []string{"ops@example.test"}, zerolog.Nop())
	router := newRouter(s, checker)

	rec := doJSON(t, router, http.MethodPost, "/api/notifications/summary", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	mailer.AssertExpectations(t)
}

func TestNotificationsSummary_Disabled(t *testing.T) {
	s := newTestStore(t)
	router := newRouter(s, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/notifications/summary", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
