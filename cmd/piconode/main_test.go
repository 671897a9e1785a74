// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/piconode/piconode/lib/config"
)

// writeTestCA writes a self-signed CA certificate PEM into a temp
// directory and returns its path.
func writeTestCA(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "piconode-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write CA file: %v", err)
	}
	return path
}

func TestBuildTLSConfigWithoutCASkipsVerification(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Cluster.Host = "api.example.com"

	tlsConfig, err := buildTLSConfig(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if !tlsConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true with no CA configured")
	}
	if tlsConfig.RootCAs != nil {
		t.Error("RootCAs set without a CA file")
	}
	if tlsConfig.ServerName != "api.example.com" {
		t.Errorf("ServerName = %q", tlsConfig.ServerName)
	}
}

func TestBuildTLSConfigWithCAVerifiesServer(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Cluster.Host = "api.example.com"
	cfg.Cluster.CACert = writeTestCA(t)

	tlsConfig, err := buildTLSConfig(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if tlsConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = true with a CA configured")
	}
	if tlsConfig.RootCAs == nil {
		t.Error("RootCAs not populated from the CA file")
	}
}

func TestBuildTLSConfigRejectsBadCAFile(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.DiscardHandler)

	cfg := config.Default()
	cfg.Cluster.CACert = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := buildTLSConfig(cfg, logger); err == nil {
		t.Error("expected error for missing CA file")
	}

	junk := filepath.Join(t.TempDir(), "junk.pem")
	if err := os.WriteFile(junk, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write junk file: %v", err)
	}
	cfg.Cluster.CACert = junk
	if _, err := buildTLSConfig(cfg, logger); err == nil {
		t.Error("expected error for a file without certificates")
	}
}
