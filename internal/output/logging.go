package output

import (
	"io"
	"log/slog"
	"math"
)

// LogOptions mirrors the global --quiet, --verbose, --debug and --log-json
// flags of the CLI.
type LogOptions struct {
	Quiet   bool
	Verbose bool
	Debug   bool
	JSON    bool
}

// Level maps the flags to a slog level. Quiet wins over debug, debug over
// verbose; with none set only warnings and errors are logged. Quiet uses a
// level no record reaches, so rule configuration warnings are dropped too.
func (o LogOptions) Level() slog.Level {
	switch {
	case o.Quiet:
		return slog.Level(math.MaxInt)
	case o.Debug:
		return slog.LevelDebug
	case o.Verbose:
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// SetupLogger builds the logger for aborted files, disabled rules and
// callback failures. Reports go to stdout; w is typically os.Stderr.
func SetupLogger(o LogOptions, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     o.Level(),
		AddSource: o.Debug && !o.Quiet,
	}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if o.JSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
