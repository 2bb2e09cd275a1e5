package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
)

// Cleanup is run before the crash report is written. The front end may
// replace it to restore the terminal.
var Cleanup = func() {}

// PanicHandler must be deferred at the top of every goroutine. A stack trace
// is written to a tbmail-crash log in the temp dir and the panic is passed on.
func PanicHandler() {
	r := recover()
	if r == nil {
		return
	}

	Cleanup()

	name := time.Now().Format("tbmail-crash-20060102-150405.log")
	filename := filepath.Join(os.TempDir(), name)

	panicLog, err := os.OpenFile(filename,
		os.O_SYNC|os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		panic(r)
	}
	defer panicLog.Close()

	outputs := io.MultiWriter(panicLog, os.Stderr)

	fmt.Fprintln(panicLog, strings.Repeat("#", 80))
	fmt.Fprintf(panicLog, "%*s\n", 47, "PANIC CAUGHT!")
	fmt.Fprintf(panicLog, "%*s\n", 56, time.Now().Format("2006-01-02T15:04:05.000000-0700"))
	fmt.Fprintln(panicLog, strings.Repeat("#", 80))
	fmt.Fprintf(outputs, "%s\n", panicMessage)
	fmt.Fprintf(panicLog, "Error: %v\n\n", r)
	panicLog.Write(debug.Stack()) //nolint:errcheck // nothing left to report to
	fmt.Fprintf(os.Stderr, "\nThis error was also written to: %s\n", filename)
	Errorf("panic: %v", r)
	panic(r)
}

const panicMessage = `
tbmail has encountered a critical error and has terminated. The crash log
below contains the stack trace.
`
