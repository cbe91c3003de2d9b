package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// Options describes the TLS material used for channels to TLS endpoints and,
// on the backend side, for the ClusterInfo server.
type Options struct {
    CAFile             string `koanf:"ca_file"`
    CertFile           string `koanf:"cert_file"`
    KeyFile            string `koanf:"key_file"`
    ServerName         string `koanf:"server_name"`
    InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
    // ReloadEvery re-reads the client/server key pair from disk on handshake
    // once the cached copy is older than this. Zero loads once.
    ReloadEvery time.Duration `koanf:"reload_every"`
}

// Client returns a client tls.Config. Seeds and nodes flagged as TLS are
// dialed with it; a zero Options yields a config that verifies against the
// system roots.
func (o Options) Client() (*tls.Config, error) {
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.ServerName != "" {
        cfg.ServerName = o.ServerName
    }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil {
            return nil, err
        }
        cfg.RootCAs = pool
    }
    if o.CertFile == "" || o.KeyFile == "" {
        return cfg, nil
    }
    load, err := o.keyPairLoader()
    if err != nil {
        return nil, err
    }
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return load() }
    return cfg, nil
}

// Server returns a server tls.Config. When a CA is given, client certificates
// are required and verified against it.
func (o Options) Server() (*tls.Config, error) {
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required")
    }
    load, err := o.keyPairLoader()
    if err != nil {
        return nil, err
    }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return load() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil {
            return nil, err
        }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// keyPairLoader loads the key pair eagerly so that configuration errors show
// up at build time, then serves it from cache, reloading per ReloadEvery.
func (o Options) keyPairLoader() (func() (*tls.Certificate, error), error) {
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil {
        return nil, fmt.Errorf("tls: load key pair: %w", err)
    }
    var (
        mu       sync.Mutex
        cached   = &cert
        lastLoad = time.Now()
    )
    return func() (*tls.Certificate, error) {
        mu.Lock()
        defer mu.Unlock()
        if o.ReloadEvery <= 0 || time.Since(lastLoad) < o.ReloadEvery {
            return cached, nil
        }
        fresh, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil {
            // keep serving the previous pair while the files are rotated
            return cached, nil
        }
        cached, lastLoad = &fresh, time.Now()
        return cached, nil
    }, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil {
        return nil, fmt.Errorf("tls: read CA: %w", err)
    }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) {
        return nil, fmt.Errorf("tls: no certificates in %s", path)
    }
    return pool, nil
}
