// Package common carries the logging infrastructure shared by every
// subsystem of the engine: a level-aware output splitter, a configurable
// logger constructor (logger.go), and structured-field helpers. Built on
// logrus; error-level lines go to stderr so containerized and scripted
// callers can separate the streams.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines by severity: lines carrying
// a "level=error" (text) or "level":"error" (JSON) marker go to stderr,
// everything else to stdout. It
// operates on logrus's final output, so it composes with both the text
// and JSON formatters.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-level fallback instance used when a caller
// passes a nil logger to NewContextLogger. Engine code always injects
// its own logger built by NewLogger; this exists so the helpers stay
// usable from scratch scripts and tests.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
