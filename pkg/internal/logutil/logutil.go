package logutil

import (
    "io"
    "os"
    "strings"

    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"
)

// JSONFromEnv reports whether CHANPOOL_LOG_JSON=1 or CHANPOOL_LOG_FORMAT=json.
func JSONFromEnv() bool {
    return os.Getenv("CHANPOOL_LOG_JSON") == "1" || os.Getenv("CHANPOOL_LOG_FORMAT") == "json"
}

// New returns a logfmt (or JSON) logger writing to w with a UTC timestamp and
// the caller attached, filtered to the given level.
func New(w io.Writer, json bool, lvl string) kitlog.Logger {
    if w == nil {
        w = os.Stderr
    }
    var l kitlog.Logger
    if json {
        l = kitlog.NewJSONLogger(kitlog.NewSyncWriter(w))
    } else {
        l = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
    }
    l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)
    return level.NewFilter(l, Allow(lvl))
}

// Allow maps a level name to a go-kit level option. Unknown names allow info.
func Allow(lvl string) level.Option {
    switch strings.ToLower(strings.TrimSpace(lvl)) {
    case "debug":
        return level.AllowDebug()
    case "warn", "warning":
        return level.AllowWarn()
    case "error":
        return level.AllowError()
    case "none", "off":
        return level.AllowNone()
    default:
        return level.AllowInfo()
    }
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l kitlog.Logger) kitlog.Logger {
    if l == nil {
        return kitlog.NewNopLogger()
    }
    return l
}
