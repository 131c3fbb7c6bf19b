// Package tlsconf derives deterministic TLS credentials from a passphrase.
//
// Server and clients derive the same ECDSA P-256 key from the shared token
// via HKDF. The server wraps it in a throwaway self-signed certificate;
// clients ignore the chain and compare the presented public key with their
// own derivation. Same passphrase, same key, connection succeeds. No CA, no
// certificate distribution.
//
//	HKDF-SHA256(ikm=passphrase, salt="clipstash-tls-v1", info="private-key")
//	→ 64 bytes → reduced mod curve order → ECDSA P-256 key
//
// The server offers both "h2" (gRPC) and "http/1.1" (REST, websocket) over
// the same listener; HTTPClientConfig pins clients to HTTP/1.1 so ALPN
// routing stays unambiguous.
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/credentials"
)

// DefaultPassphrase is used when no token is configured.
const DefaultPassphrase = "clipstash"

const serverName = "clipstash"

// Passphrase returns token, or DefaultPassphrase when token is empty.
func Passphrase(token string) string {
	if token == "" {
		return DefaultPassphrase
	}
	return token
}

// ServerConfig returns the listener TLS config for passphrase.
func ServerConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	certPEM, err := selfSignedCert(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: cert: %w", err)
	}
	keyPEM, err := marshalKey(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a client TLS config that accepts only a server whose
// public key derives from passphrase.
func ClientConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	expected, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}
	return &tls.Config{
		// The chain is not verified; the public key is.
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("tlsconf: server presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("tlsconf: parse server cert: %w", err)
			}
			pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
			if err != nil {
				return fmt.Errorf("tlsconf: marshal server pubkey: %w", err)
			}
			if !bytes.Equal(pub, expected) {
				return fmt.Errorf("tlsconf: server public key does not match passphrase")
			}
			return nil
		},
	}, nil
}

// HTTPClientConfig is ClientConfig restricted to HTTP/1.1.
func HTTPClientConfig(passphrase string) (*tls.Config, error) {
	cfg, err := ClientConfig(passphrase)
	if err != nil {
		return nil, err
	}
	cfg.NextProtos = []string{"http/1.1"}
	return cfg, nil
}

// ClientCredentials returns gRPC transport credentials for passphrase.
func ClientCredentials(passphrase string) (credentials.TransportCredentials, error) {
	cfg, err := ClientConfig(passphrase)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("clipstash-tls-v1"), []byte("private-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // k ∈ [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

// selfSignedCert wraps key in a fresh certificate. Only the key matters.
func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

func marshalKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
