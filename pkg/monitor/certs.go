package monitor

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/mr-tron/base58"
)

// ALPN is the application protocol negotiated by monitor connections.
const ALPN = "despair-monitor/1"

var oidKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

// Name returns the DNS name a monitor certificate carries for pub.
func Name(pub ed25519.PublicKey) string {
	return "m" + base58.Encode(pub)
}

// generateCertificate creates a self-signed Ed25519 certificate whose only
// DNS name is derived from the public key.
func generateCertificate(priv ed25519.PrivateKey) (tls.Certificate, error) {
	pub := priv.Public().(ed25519.PublicKey)
	name := Name(pub)

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	keyUsage, err := asn1.Marshal(asn1.BitString{Bytes: []byte{0x80}, BitLength: 8})
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal key usage: %w", err)
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{
			{Id: oidKeyUsage, Critical: false, Value: keyUsage},
		},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// verifyPeer accepts a certificate whose DNS name matches its key and, when
// pinned is set, whose key is pinned.
func verifyPeer(pinned ed25519.PublicKey) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no certificate provided by peer")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("failed to parse peer certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("peer certificate does not use an Ed25519 key")
		}
		if len(cert.DNSNames) != 1 || cert.DNSNames[0] != Name(pub) {
			return fmt.Errorf("peer certificate names %v, want %s", cert.DNSNames, Name(pub))
		}
		if pinned != nil && !pinned.Equal(pub) {
			return fmt.Errorf("peer key %s is not the pinned key %s", Name(pub), Name(pinned))
		}
		return nil
	}
}

func serverTLS(priv ed25519.PrivateKey) (*tls.Config, error) {
	cert, err := generateCertificate(priv)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPN},
	}, nil
}

func clientTLS(pinned ed25519.PublicKey) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{ALPN},
		// The chain is self-signed; verifyPeer checks the key instead.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeer(pinned),
	}
}
