package procmux

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// logger is shared by everything in this package. It stays silent
// unless verbose logging is switched on.
var logger = zerolog.Nop()

// VerboseLoggingEnable enables detailed logging of spawns, the
// multiplex loop, and reaps.
func VerboseLoggingEnable() {
	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.StampMilli,
	}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

// VerboseLoggingDisable restores the silent default.
func VerboseLoggingDisable() {
	logger = zerolog.Nop()
}

const abbrevMaxLen = 65

// abbrev keeps chunk previews readable in the logs.
func abbrev(x string) string {
	if len(x) > abbrevMaxLen {
		return x[0:abbrevMaxLen-1] + "..."
	}
	return x
}
