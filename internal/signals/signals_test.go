package signals

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestRequestGracefulStopSetsFlag(t *testing.T) {
	s := New()
	if s.StopRequested() {
		t.Fatal("StopRequested() = true before any stop was requested")
	}
	s.RequestGracefulStop()
	if !s.StopRequested() {
		t.Error("StopRequested() = false after RequestGracefulStop")
	}
}

func TestSIGHUPSetsStopAfter(t *testing.T) {
	s := New()
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.StopRequested() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("StopRequested() never became true after SIGHUP")
}
