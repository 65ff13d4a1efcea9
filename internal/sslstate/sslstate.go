// SPDX-License-Identifier: Apache-2.0

// Package sslstate classifies the TLS setup of the web frontend and keeps a
// marker of it across upgrades, so a package update that ships a default
// self-signed certificate does not silently clobber a Let's Encrypt or
// custom setup.
package sslstate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

// Inspector classifies and snapshots the SSL state of the jail.
type Inspector struct {
	certDir      string
	customMarker string
	log          *zerolog.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger injects a logger instance.
func WithLogger(log *zerolog.Logger) Option {
	return func(i *Inspector) {
		if log != nil {
			i.log = log
		}
	}
}

// New returns an Inspector over the given certificate directory. customMarker
// is a file the operator drops to declare an externally managed certificate.
func New(certDir, customMarker string, opts ...Option) *Inspector {
	nop := zerolog.Nop()
	i := &Inspector{
		certDir:      certDir,
		customMarker: customMarker,
		log:          &nop,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Classify determines the current SSL state from the filesystem. The custom
// marker outranks certificate inspection, and a missing or unparseable
// certificate means no SSL.
func (i *Inspector) Classify() core.SSLState {
	if i.customMarker != "" {
		if _, err := os.Stat(i.customMarker); err == nil {
			return core.SSLCustom
		}
	}

	cert, err := i.loadCert()
	if err != nil {
		i.log.Debug().Err(err).Msg("no usable certificate found")
		return core.SSLNone
	}

	issuer := strings.ToLower(cert.Issuer.CommonName + " " + strings.Join(cert.Issuer.Organization, " "))
	switch {
	case strings.Contains(issuer, "let's encrypt") || strings.Contains(issuer, "lets encrypt"):
		return core.SSLLetsEncrypt
	case isSelfSigned(cert):
		return core.SSLSelfSigned
	default:
		return core.SSLCustom
	}
}

func (i *Inspector) certPath() string { return filepath.Join(i.certDir, "cert.pem") }
func (i *Inspector) keyPath() string  { return filepath.Join(i.certDir, "key.pem") }

func (i *Inspector) loadCert() (*x509.Certificate, error) {
	data, err := os.ReadFile(i.certPath())
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errorx.IllegalFormat.New("%s is not a PEM certificate", i.certPath())
	}
	return x509.ParseCertificate(block.Bytes)
}

func isSelfSigned(cert *x509.Certificate) bool {
	if cert.Issuer.String() != cert.Subject.String() {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

// Snapshot copies the certificate pair into dir so Restore can bring it back
// after an upgrade replaces the directory contents.
func (i *Inspector) Snapshot(dir string) error {
	if err := os.MkdirAll(dir, core.DefaultDirPerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create snapshot dir %s", dir)
	}
	for _, name := range []string{"cert.pem", "key.pem"} {
		src := filepath.Join(i.certDir, name)
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// Restore copies a snapshot back into the certificate directory. Missing
// snapshot files are skipped.
func (i *Inspector) Restore(dir string) error {
	if err := os.MkdirAll(i.certDir, core.DefaultDirPerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create cert dir %s", i.certDir)
	}
	for _, name := range []string{"cert.pem", "key.pem"} {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(i.certDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// GenerateSelfSigned writes a fresh self-signed certificate pair for the
// given host into the certificate directory.
func (i *Inspector) GenerateSelfSigned(host string, validity time.Duration) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to generate key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to generate serial")
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host, Organization: []string{"Nextcloud Plugin"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{host},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create certificate")
	}

	if err := os.MkdirAll(i.certDir, core.DefaultDirPerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create cert dir %s", i.certDir)
	}

	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(i.certPath(), certOut, core.DefaultFilePerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to write certificate")
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to marshal key")
	}
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(i.keyPath(), keyOut, core.SecretFilePerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to write key")
	}

	i.log.Info().Str("host", host).Str("dir", i.certDir).Msg("self-signed certificate generated")
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to write %s", dst)
	}
	return nil
}
