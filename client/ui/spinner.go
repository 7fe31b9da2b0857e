package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type Spinner struct {
	*spinner.Spinner
	msg string

	// interactive spinners animate, others only print their final message
	interactive bool
	writer      io.Writer
}

// NewSpinner creates and starts a spinner on stderr with the given message.
func NewSpinner(msg string) *Spinner {
	return newSpinner(msg, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
}

func newSpinner(msg string, w io.Writer, interactive bool) *Spinner {
	s := &Spinner{
		Spinner: spinner.New(
			spinner.CharSets[14],
			200*time.Millisecond,
			spinner.WithHiddenCursor(true),
			spinner.WithWriter(w),
			spinner.WithSuffix(" "+msg),
		),
		msg:         msg,
		interactive: interactive,
		writer:      w,
	}
	if interactive {
		s.Start()
	}
	return s
}

// UpdateMessage updates the spinner message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) UpdateMessage(msg string) {
	if s == nil {
		return
	}
	s.Lock()
	s.Spinner.Suffix = " " + msg
	s.Unlock()
	s.msg = msg
}

// Success stops the spinner and prints a success message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Success(msg ...string) {
	s.finish(color.HiGreenString("✓"), msg)
}

// Warn stops the spinner and prints a warning message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Warn(msg ...string) {
	s.finish(color.HiYellowString("!"), msg)
}

// Fail stops the spinner and prints a failure message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Fail(msg ...string) {
	s.finish(color.HiRedString("✗"), msg)
}

func (s *Spinner) finish(symbol string, msg []string) {
	if s == nil {
		return
	}
	if len(msg) == 0 {
		msg = []string{s.msg}
	}
	final := fmt.Sprintf("%s %s\n", symbol, msg[0])

	if !s.interactive {
		fmt.Fprint(s.writer, final)
		return
	}
	s.Spinner.FinalMSG = final
	s.Stop()
}
