package bootstrap

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/knadh/koanf/parsers/yaml"
    "github.com/knadh/koanf/providers/env"
    "github.com/knadh/koanf/providers/file"
    "github.com/knadh/koanf/v2"

    tlsx "github.com/amirimatin/go-chanpool/pkg/security/tlsconfig"
)

// EnvPrefix prefixes every environment override, e.g. CHANPOOL_TEND_INTERVAL
// sets tend.interval and CHANPOOL_TLS_CA_FILE sets tls.ca_file.
const EnvPrefix = "CHANPOOL_"

// Config is the complete client (and demo backend) configuration. Sources are
// applied in order: defaults, YAML file, environment, explicit overrides.
type Config struct {
    // Seeds are "host:port" or "tls://host:port" items used when the
    // discovery kind is static.
    Seeds        []string `koanf:"seeds"`
    Listener     string   `koanf:"listener"`
    LoadBalancer bool     `koanf:"loadbalancer"`
    Tracing      bool     `koanf:"tracing"`

    Tend      TendConfig      `koanf:"tend"`
    Dial      DialConfig      `koanf:"dial"`
    Discovery DiscoveryConfig `koanf:"discovery"`
    TLS       tlsx.Options    `koanf:"tls"`
    Log       LogConfig       `koanf:"log"`
    HTTP      HTTPConfig      `koanf:"http"`
    Backend   BackendConfig   `koanf:"backend"`
}

type TendConfig struct {
    Interval time.Duration `koanf:"interval"`
    Timeout  time.Duration `koanf:"timeout"`
}

type DialConfig struct {
    // Timeout is how long a node channel may take to become ready before the
    // next endpoint is tried. Zero connects lazily.
    Timeout time.Duration `koanf:"timeout"`
}

type DiscoveryConfig struct {
    // Kind is "static" (default), "dns" or "file".
    Kind     string        `koanf:"kind"`
    Refresh  time.Duration `koanf:"refresh"`
    DNSNames []string      `koanf:"dns_names"`
    DNSPort  int           `koanf:"dns_port"`
    DNSTLS   bool          `koanf:"dns_tls"`
    FilePath string        `koanf:"file_path"`
    FileEnv  string        `koanf:"file_env"`
}

type LogConfig struct {
    Level  string `koanf:"level"`
    JSON   bool   `koanf:"json"`
    Format string `koanf:"format"`
}

type HTTPConfig struct {
    // Addr serves /status, /healthz and /metrics; empty disables it.
    Addr string `koanf:"addr"`
}

// BackendConfig configures `chanctl serve`.
type BackendConfig struct {
    NodeID          uint64   `koanf:"node_id"`
    RPCBind         string   `koanf:"rpc_bind"`
    GossipBind      string   `koanf:"gossip_bind"`
    GossipAdvertise string   `koanf:"gossip_advertise"`
    Join            []string `koanf:"join"`
    // Listeners maps a listener name to its advertised endpoints.
    Listeners map[string][]string `koanf:"listeners"`
}

func defaults() map[string]any {
    return map[string]any{
        "listener":     "",
        "loadbalancer": false,
        "tracing":      false,
        "tend": map[string]any{
            "interval": "1s",
            "timeout":  "5s",
        },
        "dial": map[string]any{
            "timeout": "2s",
        },
        "discovery": map[string]any{
            "kind":     "static",
            "refresh":  "5s",
            "dns_port": 3000,
        },
        "log": map[string]any{
            "level":  "info",
            "format": "logfmt",
        },
        "backend": map[string]any{
            "rpc_bind":    "127.0.0.1:3000",
            "gossip_bind": "127.0.0.1:7946",
        },
    }
}

// mapProvider feeds an in-memory map to koanf.
type mapProvider map[string]any

var errReadBytes = errors.New("bootstrap: map provider has no byte form")

func (m mapProvider) ReadBytes() ([]byte, error)    { return nil, errReadBytes }
func (m mapProvider) Read() (map[string]any, error) { return m, nil }

// envKey maps CHANPOOL_TLS_CA_FILE to tls.ca_file: the first segment after
// the prefix names the section, the rest is the key inside it.
func envKey(s string) string {
    s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
    if section, rest, ok := strings.Cut(s, "_"); ok {
        return section + "." + rest
    }
    return s
}

// Load reads the configuration. path may be empty. overrides holds dotted
// keys (e.g. "tend.interval") set last, typically from CLI flags.
func Load(path string, overrides map[string]any) (Config, error) {
    k := koanf.New(".")
    if err := k.Load(mapProvider(defaults()), nil); err != nil {
        return Config{}, fmt.Errorf("load defaults: %w", err)
    }
    if path != "" {
        if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
            return Config{}, fmt.Errorf("load config file %s: %w", path, err)
        }
    }
    if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
        return Config{}, fmt.Errorf("load env: %w", err)
    }
    for key, v := range overrides {
        if err := k.Set(key, v); err != nil {
            return Config{}, fmt.Errorf("override %s: %w", key, err)
        }
    }
    var cfg Config
    if err := k.Unmarshal("", &cfg); err != nil {
        return Config{}, fmt.Errorf("unmarshal config: %w", err)
    }
    return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
    switch c.Discovery.Kind {
    case "", "static", "dns", "file":
    default:
        return fmt.Errorf("bootstrap: unknown discovery kind %q", c.Discovery.Kind)
    }
    if c.Tend.Interval < 0 || c.Tend.Timeout < 0 || c.Dial.Timeout < 0 {
        return errors.New("bootstrap: durations must not be negative")
    }
    return nil
}

// JSONLogs reports whether logs should be JSON encoded.
func (c Config) JSONLogs() bool {
    return c.Log.JSON || strings.EqualFold(c.Log.Format, "json")
}
