package file

import (
    "bufio"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"

    "github.com/amirimatin/go-chanpool/pkg/discovery"
    "github.com/amirimatin/go-chanpool/pkg/internal/logutil"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path to a file (or glob) containing one seed per line or a
    // comma-separated list. Lines starting with '#' are ignored.
    Path string
    // Env names an environment variable that overrides the file when set.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
    Logger  kitlog.Logger
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []transport.Endpoint
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    opts.Logger = logutil.OrNop(opts.Logger)
    return &impl{opts: opts}
}

func (i *impl) Seeds() []transport.Endpoint {
    i.mu.Lock()
    defer i.mu.Unlock()
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" {
            return i.parse(discovery.Split(v))
        }
    }
    if i.opts.Path == "" {
        return nil
    }
    now := time.Now()
    if stat, err := os.Stat(i.opts.Path); err == nil {
        if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            i.cache = i.parse(loadFile(i.opts.Path))
            i.last = now
            i.mtime = stat.ModTime()
        }
        return append([]transport.Endpoint(nil), i.cache...)
    }
    matches, _ := filepath.Glob(i.opts.Path)
    if len(matches) > 0 {
        var lines []string
        for _, m := range matches {
            lines = append(lines, loadFile(m)...)
        }
        i.cache = i.parse(lines)
        i.last = now
    }
    return append([]transport.Endpoint(nil), i.cache...)
}

// parse converts raw seeds to endpoints, dropping malformed and duplicate
// entries, sorted by their string form.
func (i *impl) parse(raw []string) []transport.Endpoint {
    set := make(map[string]transport.Endpoint, len(raw))
    for _, s := range raw {
        ep, err := discovery.ParseEndpoint(s)
        if err != nil {
            level.Warn(i.opts.Logger).Log("msg", "ignoring seed", "seed", s, "err", err)
            continue
        }
        set[ep.String()] = ep
    }
    keys := make([]string, 0, len(set))
    for k := range set {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    out := make([]transport.Endpoint, 0, len(keys))
    for _, k := range keys {
        out = append(out, set[k])
    }
    return out
}

func loadFile(path string) []string {
    f, err := os.Open(path)
    if err != nil {
        return nil
    }
    defer f.Close()
    var seeds []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        seeds = append(seeds, discovery.Split(line)...)
    }
    if err := s.Err(); err != nil {
        return nil
    }
    return seeds
}
