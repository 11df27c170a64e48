// Package signals implements the signal supervisor of spec.md §4.6/§5:
// SIGHUP means "stop gracefully after the current project"; SIGINT/SIGTERM/
// SIGQUIT/SIGABRT/SIGPIPE on the build-parent fan out SIGINT to the whole
// process group before exiting. Grounded on the teacher's top-level
// InterruptibleContext (context.go) and internal/oninterrupt, both of which
// cancel a context / run cleanup callbacks from a single signal.Notify
// goroutine; this package generalizes that into the two distinct supervisor
// behaviors the spec requires.
package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Supervisor tracks cooperative-stop state and can fan out a hard signal to
// the process group.
type Supervisor struct {
	mu          sync.Mutex
	stopAfter   bool
	hardSignal  chan os.Signal
	gracefulSig chan os.Signal
}

// New installs handlers for the signals named in spec.md §4.6: SIGHUP is
// graceful, SIGINT/SIGTERM/SIGQUIT/SIGABRT/SIGPIPE are hard.
func New() *Supervisor {
	s := &Supervisor{
		hardSignal:  make(chan os.Signal, 1),
		gracefulSig: make(chan os.Signal, 1),
	}
	signal.Notify(s.gracefulSig, syscall.SIGHUP)
	signal.Notify(s.hardSignal,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGPIPE)

	go func() {
		for range s.gracefulSig {
			s.mu.Lock()
			s.stopAfter = true
			s.mu.Unlock()
		}
	}()
	return s
}

// StopRequested reports whether a graceful stop was requested (checked
// between projects by the builder and the updater, per
// spec.md §4.6 "Cancellation").
func (s *Supervisor) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopAfter
}

// RequestGracefulStop sets the stop-after flag directly (used when
// stop-on-failure converts internally into graceful cancellation, spec.md
// §4.6).
func (s *Supervisor) RequestGracefulStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAfter = true
}

// WaitHard blocks until a hard-cancellation signal arrives, then returns
// its number. Callers run this in a goroutine and, on return, perform the
// process-group fan-out (spec.md §4.6).
func (s *Supervisor) WaitHard() int {
	sig := <-s.hardSignal
	if sn, ok := sig.(syscall.Signal); ok {
		return int(sn)
	}
	return 1
}

// FanOutToProcessGroup ignores SIGINT on the current process and sends
// SIGINT to the entire process group once (spec.md §4.6). It does not wait
// or resend; ResendToProcessGroup delivers the second SIGINT.
func FanOutToProcessGroup(pgid int) error {
	signal.Ignore(syscall.SIGINT)
	if err := unix.Kill(-pgid, syscall.SIGINT); err != nil {
		return err
	}
	return nil
}

// ResendToProcessGroup delivers a second SIGINT, used after the brief wait
// described in spec.md §4.6.
func ResendToProcessGroup(pgid int) error {
	return unix.Kill(-pgid, syscall.SIGINT)
}
