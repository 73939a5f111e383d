// Package stdout shows a terminal busy indicator while soatool waits on the
// admin API.
package stdout

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Indicator wraps spinner.Spinner. It writes to its own writer (stderr in the
// CLI) so table or JSON output on stdout is never interleaved with frames.
type Indicator struct {
	spin  *spinner.Spinner
	quiet bool
}

// New creates a stopped indicator. In quiet mode every method is a no-op.
func New(quiet bool, w io.Writer) *Indicator {
	ind := &Indicator{quiet: quiet}
	if !quiet {
		ind.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
			spinner.WithWriter(w),
			spinner.WithColor("cyan"))
	}
	return ind
}

// Start shows the indicator with message as suffix.
func (i *Indicator) Start(message string) {
	if i.quiet || i.spin == nil {
		return
	}
	i.spin.Suffix = " " + message
	i.spin.FinalMSG = ""
	i.spin.Start()
}

// Update replaces the suffix of a running indicator.
func (i *Indicator) Update(message string) {
	if i.quiet || i.spin == nil {
		return
	}
	i.spin.Lock()
	i.spin.Suffix = " " + message
	i.spin.Unlock()
}

// Success stops the indicator and leaves message on screen.
func (i *Indicator) Success(message string) {
	i.finish("✅ " + message)
}

// Fail stops the indicator and leaves message on screen.
func (i *Indicator) Fail(message string) {
	i.finish("❌ " + message)
}

// Stop stops the indicator without a final line.
func (i *Indicator) Stop() {
	if i.quiet || i.spin == nil {
		return
	}
	i.spin.Stop()
}

// Track runs fn while the indicator shows message.
func (i *Indicator) Track(message string, fn func() error) error {
	i.Start(message)
	if err := fn(); err != nil {
		i.Fail(message)
		return err
	}
	i.Success(message)
	return nil
}

// IsQuiet reports whether output is suppressed.
func (i *Indicator) IsQuiet() bool {
	return i.quiet
}

func (i *Indicator) finish(final string) {
	if i.quiet || i.spin == nil {
		return
	}
	i.spin.FinalMSG = final + "\n"
	i.spin.Stop()
}
