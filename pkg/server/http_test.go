package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"creatorledger/pkg/config"
	"creatorledger/pkg/health"
	"creatorledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRouterServesOpsEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.PayoutRuns)
	metrics.PayoutRuns.WithLabelValues("real", "APPLIED").Inc()

	r := NewRouter(RouterParams{Health: health.ProvideHealth(health.HealthParams{}), Gatherer: reg})

	for _, path := range []string{"/livez", "/readyz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `creatorledger_payout_runs_total{mode="real",status="APPLIED"}`)
}

func writeCert(t *testing.T, dir, cn string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func commonName(srv *Server) string {
	cert, err := srv.getCertificate(nil)
	if err != nil {
		return ""
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return ""
	}
	return leaf.Subject.CommonName
}

func TestTLSCertificateReload(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCert(t, dir, "first")

	cfg := &config.Config{}
	cfg.Server.Addr = "0"
	cfg.TLS.Enable = true
	cfg.TLS.CertPath = certPath
	cfg.TLS.KeyPath = keyPath

	srv := NewHttpServer(Params{Config: cfg, Handler: NewRouter(RouterParams{Health: health.ProvideHealth(health.HealthParams{})})})
	require.NotNil(t, srv.server.TLSConfig)
	require.Equal(t, "first", commonName(srv))

	writeCert(t, dir, "second")
	require.Eventually(t, func() bool {
		return commonName(srv) == "second"
	}, 5*time.Second, 50*time.Millisecond)

	// a broken pair keeps the last good certificate
	require.NoError(t, os.WriteFile(keyPath, []byte("garbage"), 0o600))
	srv.reloadCert()
	require.Equal(t, "second", commonName(srv))
}

func TestNoCertificateLoaded(t *testing.T) {
	srv := &Server{}
	_, err := srv.getCertificate(nil)
	require.Error(t, err)
}
