// Command gencert writes a self-signed TLS certificate and key to disk, for
// local development and testing of the server's tls.certificate/tls.key
// config keys. Issuing certificates for production use is out of scope;
// this only exists to get a developer from zero to a working TLS listener.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"
)

func main() {
	hostname := flag.String("hostname", "localhost", "Common Name and DNS SAN for the certificate")
	validity := flag.Duration("validity", 365*24*time.Hour, "certificate validity duration")
	certOut := flag.String("cert", "multichat.crt", "output path for the certificate PEM")
	keyOut := flag.String("key", "multichat.key", "output path for the private key PEM")
	flag.Parse()

	certPEM, keyPEM, err := generate(*hostname, *validity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gencert:", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*certOut, certPEM, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "gencert: write certificate:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*keyOut, keyPEM, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "gencert: write key:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s and %s, valid for %s\n", *certOut, *keyOut, *validity)
}

func generate(hostname string, validity time.Duration) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
