// Package testcerts writes a throwaway CA plus server and client leaf
// certificates for tests that need real TLS.
package testcerts

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"
)

// Files holds the paths of the generated PEM files.
type Files struct {
    CA         string
    ServerCert string
    ServerKey  string
    ClientCert string
    ClientKey  string
}

// Write generates the certificates under dir. Server certificates are valid
// for 127.0.0.1 and "localhost".
func Write(t testing.TB, dir string) Files {
    t.Helper()
    caPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil {
        t.Fatalf("ca key: %v", err)
    }
    caTpl := &x509.Certificate{
        SerialNumber:          big.NewInt(1),
        Subject:               pkix.Name{CommonName: "chanpool-test-ca"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(48 * time.Hour),
        KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
        IsCA:                  true,
        BasicConstraintsValid: true,
    }
    caDER, err := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
    if err != nil {
        t.Fatalf("ca cert: %v", err)
    }
    out := Files{CA: filepath.Join(dir, "ca.crt")}
    writePEM(t, out.CA, "CERTIFICATE", caDER)

    leaf := func(cn, name string, usage x509.ExtKeyUsage) (string, string) {
        priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
        if err != nil {
            t.Fatalf("%s key: %v", name, err)
        }
        tpl := &x509.Certificate{
            SerialNumber: big.NewInt(time.Now().UnixNano()),
            Subject:      pkix.Name{CommonName: cn},
            NotBefore:    time.Now().Add(-time.Hour),
            NotAfter:     time.Now().Add(24 * time.Hour),
            KeyUsage:     x509.KeyUsageDigitalSignature,
            ExtKeyUsage:  []x509.ExtKeyUsage{usage},
            IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
            DNSNames:     []string{"localhost"},
        }
        der, err := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
        if err != nil {
            t.Fatalf("%s cert: %v", name, err)
        }
        keyDER, err := x509.MarshalECPrivateKey(priv)
        if err != nil {
            t.Fatalf("%s key marshal: %v", name, err)
        }
        crt := filepath.Join(dir, name+".crt")
        key := filepath.Join(dir, name+".key")
        writePEM(t, crt, "CERTIFICATE", der)
        writePEM(t, key, "EC PRIVATE KEY", keyDER)
        return crt, key
    }
    out.ServerCert, out.ServerKey = leaf("chanpool-server", "server", x509.ExtKeyUsageServerAuth)
    out.ClientCert, out.ClientKey = leaf("chanpool-client", "client", x509.ExtKeyUsageClientAuth)
    return out
}

func writePEM(t testing.TB, path, typ string, der []byte) {
    t.Helper()
    if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600); err != nil {
        t.Fatalf("write %s: %v", path, err)
    }
}
