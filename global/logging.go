package global

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// global Log
var Logger log.Logger

func init() {
	Logger = newLogger(level.AllowAll())
}

func newLogger(allowed level.Option) log.Logger {
	w := log.NewSyncWriter(os.Stderr)
	l := log.NewLogfmtLogger(w)
	l = level.NewFilter(l, allowed)
	return log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// ConfigureLogger drops debug entries unless the server runs in debug mode
func ConfigureLogger(mode string) {
	if mode == "debug" {
		Logger = newLogger(level.AllowDebug())
		return
	}
	Logger = newLogger(level.AllowInfo())
}
