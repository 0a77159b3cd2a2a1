package jinglesession

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"strings"
	"time"

	dtlsfingerprint "github.com/pion/dtls/v3/pkg/crypto/fingerprint"

	"github.com/avstack/gomeet/internal/util"
)

// localCertificate is the fresh, self-signed ECDSA P-256 certificate
// spec §4.F requires for each Jingle session ("Generate a fresh ECDSA
// P-256 self-signed certificate valid for the session; compute its
// SHA-256 fingerprint").
//
// Grounded on the teacher pack's WebRTC certificate generation
// (pion-webrtc's certificate.go GenerateCertificate: ecdsa.GenerateKey +
// a self-signed x509.CreateCertificate) for the key/cert shape, and on
// pion-webrtc's dtlstransport.go (fingerprint.Fingerprint/
// fingerprint.HashFromString) for the digest itself, so the fingerprint
// this module publishes is computed the same way the DTLS library that
// later drives the handshake (package ice's PionAgent) will recompute
// it when it receives the remote's. Single-session lifetime instead of
// a long-lived RTCCertificate; sha-256-only, since XEP-0320 requires
// hash=sha-256 unlike WebRTC's negotiable fingerprint algorithm list.
type localCertificate struct {
	tls         tls.Certificate
	fingerprint string // colon-separated uppercase hex
}

func generateCertificate() (*localCertificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jinglesession: generating key: %w", err)
	}

	maxSerial := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, maxSerial)
	if err != nil {
		return nil, fmt.Errorf("jinglesession: generating serial: %w", err)
	}

	tpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: util.NewID()},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("jinglesession: signing certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("jinglesession: parsing certificate: %w", err)
	}

	fp, err := dtlsfingerprint.Fingerprint(cert, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("jinglesession: fingerprinting certificate: %w", err)
	}

	return &localCertificate{
		tls:         tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		fingerprint: strings.ToUpper(fp),
	}, nil
}
