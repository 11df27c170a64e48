// Package status implements the single-TTY progress view of spec.md §4.10:
// one carriage-return-redrawn line showing the current project and
// built/failed totals. Grounded on internal/batch.scheduler's
// refreshStatus/updateStatus, which gates the same way on a terminal check
// before carriage-returning a fixed number of lines; this package collapses
// that multi-worker status block into the single line spec.md §4.10 calls
// for, since kde-builder runs one build at a time. The terminal check
// itself uses the teacher's own go-isatty dependency rather than a
// hand-rolled ioctl, since go-isatty is the exact tool for this job.
package status

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether fd is a real terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// View renders the "<verb> <project> (<built>/<total> built, <failed>
// failed)" line described in spec.md §4.10.
type View struct {
	w          io.Writer
	isTerminal bool
	lastLen    int

	Total   int
	Built   int
	Failed  int
}

// New creates a status view writing to w. total is the number of projects
// in this run.
func New(w io.Writer, total int) *View {
	isTerm := false
	if f, ok := w.(*os.File); ok {
		isTerm = IsTerminal(f.Fd())
	}
	return &View{w: w, isTerminal: isTerm, Total: total}
}

// Update redraws the status line for verb/project (e.g. "building",
// "updating").
func (v *View) Update(verb, project string) {
	line := fmt.Sprintf("%s %s (%d/%d built, %d failed)", verb, project, v.Built, v.Total, v.Failed)
	v.redraw(line)
}

func (v *View) redraw(line string) {
	if !v.isTerminal {
		fmt.Fprintln(v.w, line)
		return
	}
	pad := ""
	if diff := v.lastLen - len(line); diff > 0 {
		for i := 0; i < diff; i++ {
			pad += " "
		}
	}
	fmt.Fprintf(v.w, "\r%s%s", line, pad)
	v.lastLen = len(line)
}

// Release prints a final terminal message and moves to a fresh line,
// releasing the single status line so unrelated subprocess text can stream
// past (spec.md §4.10 "When a subprocess must emit unrelated text").
func (v *View) Release(project string, ok bool, elapsedSuffix string) {
	verdict := "succeeded"
	if !ok {
		verdict = "failed"
	}
	line := fmt.Sprintf("%s %s%s", project, verdict, elapsedSuffix)
	if v.isTerminal {
		fmt.Fprintf(v.w, "\r%s\n", line)
	} else {
		fmt.Fprintln(v.w, line)
	}
	v.lastLen = 0
}

// ProjectDone records a terminal outcome and bumps the built/failed totals.
func (v *View) ProjectDone(ok bool) {
	if ok {
		v.Built++
	} else {
		v.Failed++
	}
}
