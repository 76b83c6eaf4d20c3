package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/pkg/security"
)

// testCA issues certificates into a temporary directory.
type testCA struct {
	t      *testing.T
	dir    string
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	file   string
	serial int64
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "lookupkit test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	ca := &testCA{t: t, dir: t.TempDir(), cert: cert, key: key, serial: 1}
	ca.file = ca.write("ca.pem", "CERTIFICATE", der)
	return ca
}

func (ca *testCA) write(name, blockType string, der []byte) string {
	path := filepath.Join(ca.dir, name)
	require.NoError(ca.t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600))
	return path
}

// issue signs a leaf for cn and returns its cert and key files.
func (ca *testCA) issue(cn string, usage x509.ExtKeyUsage) (certFile, keyFile string) {
	ca.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(ca.t, err)

	ca.serial++
	template := &x509.Certificate{
		SerialNumber: big.NewInt(ca.serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(ca.t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(ca.t, err)

	return ca.write(cn+".pem", "CERTIFICATE", der), ca.write(cn+"-key.pem", "EC PRIVATE KEY", keyDER)
}

// serveTLS starts an HTTPS server answering "ok" with cfg.
func serveTLS(t *testing.T, cfg *tls.Config) string {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	srv.TLS = cfg
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv.URL
}

func get(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func TestServerConfig_Disabled(t *testing.T) {
	cfg, err := ServerConfig(security.ServerTLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestServerConfig(t *testing.T) {
	ca := newTestCA(t)
	certFile, keyFile := ca.issue("master", x509.ExtKeyUsageServerAuth)

	tests := []struct {
		name        string
		cfg         security.ServerTLSConfig
		wantErr     bool
		wantVersion uint16
		wantAuth    tls.ClientAuthType
	}{
		{
			name:        "defaults to TLS 1.2",
			cfg:         security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile},
			wantVersion: tls.VersionTLS12,
		},
		{
			name:        "TLS 1.3",
			cfg:         security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"},
			wantVersion: tls.VersionTLS13,
		},
		{
			name: "required client certificates",
			cfg: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile,
				MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{ca.file}, RequireClientCert: true}},
			wantVersion: tls.VersionTLS12,
			wantAuth:    tls.RequireAndVerifyClientCert,
		},
		{
			name: "optional client certificates",
			cfg: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile,
				MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{ca.file}}},
			wantVersion: tls.VersionTLS12,
			wantAuth:    tls.VerifyClientCertIfGiven,
		},
		{
			name:    "missing key",
			cfg:     security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: filepath.Join(t.TempDir(), "nope")},
			wantErr: true,
		},
		{
			name: "bad client CA",
			cfg: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile,
				MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{keyFile}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ServerConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, cfg.Certificates, 1)
			assert.Equal(t, tt.wantVersion, cfg.MinVersion)
			assert.Equal(t, tt.wantAuth, cfg.ClientAuth)
		})
	}
}

func TestClientConfig(t *testing.T) {
	ca := newTestCA(t)
	certFile, keyFile := ca.issue("replica", x509.ExtKeyUsageClientAuth)

	cfg, err := ClientConfig(security.ClientTLSConfig{CAFiles: []string{ca.file}, MinVersion: "1.3"})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Empty(t, cfg.Certificates)

	cfg, err = ClientConfig(security.ClientTLSConfig{MTLS: security.ClientMTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)

	_, err = ClientConfig(security.ClientTLSConfig{CAFiles: []string{filepath.Join(t.TempDir(), "missing.pem")}})
	assert.Error(t, err)

	_, err = ClientConfig(security.ClientTLSConfig{MTLS: security.ClientMTLSConfig{Enabled: true, CertFile: certFile}})
	assert.Error(t, err)
}

func TestHTTPClient_TrustsConfiguredCA(t *testing.T) {
	ca := newTestCA(t)
	certFile, keyFile := ca.issue("master", x509.ExtKeyUsageServerAuth)
	serverCfg, err := ServerConfig(security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	url := serveTLS(t, serverCfg)

	client, err := HTTPClient(security.ClientTLSConfig{CAFiles: []string{ca.file}})
	require.NoError(t, err)
	assert.NoError(t, get(client, url))

	untrusting, err := HTTPClient(security.ClientTLSConfig{})
	require.NoError(t, err)
	assert.Error(t, get(untrusting, url), "unknown CA")
}

func TestMTLSHandshake(t *testing.T) {
	ca := newTestCA(t)
	serverCert, serverKey := ca.issue("master", x509.ExtKeyUsageServerAuth)
	allowedCert, allowedKey := ca.issue("replica", x509.ExtKeyUsageClientAuth)
	otherCert, otherKey := ca.issue("intruder", x509.ExtKeyUsageClientAuth)

	serverCfg, err := ServerConfig(security.ServerTLSConfig{
		Enabled:  true,
		CertFile: serverCert,
		KeyFile:  serverKey,
		MTLS: security.ServerMTLSConfig{
			Enabled:           true,
			ClientCAFiles:     []string{ca.file},
			RequireClientCert: true,
			AllowedClientCNs:  []string{"replica"},
		},
	})
	require.NoError(t, err)
	url := serveTLS(t, serverCfg)

	clientFor := func(cert, key string) *http.Client {
		cfg := security.ClientTLSConfig{CAFiles: []string{ca.file}}
		if cert != "" {
			cfg.MTLS = security.ClientMTLSConfig{Enabled: true, CertFile: cert, KeyFile: key}
		}
		c, err := HTTPClient(cfg)
		require.NoError(t, err)
		return c
	}

	assert.NoError(t, get(clientFor(allowedCert, allowedKey), url))
	assert.Error(t, get(clientFor(otherCert, otherKey), url), "CN not allowed")
	assert.Error(t, get(clientFor("", ""), url), "certificate required")
}

func TestVerifyAllowedClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "replica"}}

	assert.NoError(t, verifyAllowedClientCN([][]*x509.Certificate{{leaf}}, []string{"other", "replica"}))
	assert.Error(t, verifyAllowedClientCN([][]*x509.Certificate{{leaf}}, []string{"other"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"replica"}))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
