// A simple telemetry package.
// As yet we have no place to put counters except log messages.
package telemetry

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type TelemetryData struct {
	logger *log.Logger

	counterLock sync.Mutex
	counters    map[string]int

	trace bool
}

var data = TelemetryData{
	counters: make(map[string]int),
	trace:    true,
}

// init is called at program startup time to initialize the logger
func init() {
	data.logger = log.New(formattedWriter{out: os.Stdout}, "", 0)
}

type formattedWriter struct {
	out io.Writer
}

func (w formattedWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprint(w.out, time.Now().UTC().Format("2006-01-02 15:04:05")+" "+string(bytes))
}

// SetOutput redirects log lines, mostly so tests can look at them.
func SetOutput(w io.Writer) {
	data.logger.SetOutput(formattedWriter{out: w})
}

// SetTrace turns Trace messages on or off.
func SetTrace(on bool) {
	data.trace = on
}

func Log(format string, args ...any) {
	data.logger.Println(fmt.Sprintf(format, args...))
}

func Trace(format string, args ...any) {
	if data.trace {
		Log(format, args...)
	}
}

// Warn logs something odd that isn't an error on our side, e.g. a remote server sending junk.
func Warn(format string, args ...any) {
	data.logger.Println("WARNING", fmt.Sprintf(format, args...))
	Increment("warnings", 1)
}

func Error(err error, format string, args ...any) {
	data.logger.Println("ERROR", fmt.Sprintf(format, args...), fmt.Sprintf("[%s]", err))
	Increment("errors", 1)
}

// Request logs essential information about an HTTP request
func Request(r *http.Request, format string, args ...any) {
	data.logger.Println(fmt.Sprintf(format, args...), r.Method, r.URL)
}

// Increment increases a count, thread-safe
func Increment(name string, n int) {
	data.counterLock.Lock()
	defer data.counterLock.Unlock()
	data.counters[name] += n
}

func GetCounter(name string) int {
	data.counterLock.Lock()
	defer data.counterLock.Unlock()
	return data.counters[name]
}

func LogCounters() {
	s := make([]string, 0)
	data.counterLock.Lock()
	for k, v := range data.counters {
		s = append(s, fmt.Sprintf("%s=%d", k, v))
	}
	data.counterLock.Unlock()
	if len(s) == 0 {
		s = append(s, "no counters were recorded")
	}
	Log(strings.Join(s, ", "))
}
