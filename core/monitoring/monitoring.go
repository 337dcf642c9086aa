package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

// Recorder keeps captured errors in memory. The replay command uses it to
// summarise failures.
type Recorder struct {
	mu     sync.Mutex
	errors []error
}

func (r *Recorder) CaptureException(err error, _ map[string]string) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
}

func (r *Recorder) Recover()            {}
func (r *Recorder) Flush(time.Duration) {}

// Errors returns a copy of the captured errors.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}
