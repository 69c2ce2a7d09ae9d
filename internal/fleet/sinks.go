// ABOUTME: Discovery sinks: places a newly accepted code is mirrored to.
// ABOUTME: Console output in green, and optionally the system clipboard.

package fleet

import (
	"fmt"
	"io"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
)

// DiscoverySink receives each newly accepted code, in acceptance order.
// Durable persistence is not a sink's job; that happens inside the dedup
// cache before the acceptance is even reported.
type DiscoverySink interface {
	Mirror(code string) error
}

// ConsoleSink prints discoveries prominently to a terminal.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a sink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

// Mirror prints the code in bold green.
func (s *ConsoleSink) Mirror(code string) error {
	green := color.New(color.FgGreen, color.Bold)
	_, err := fmt.Fprintf(s.out, "\n%s\n\n", green.Sprintf("CODE FOUND: %s", code))
	return err
}

// ClipboardSink copies each discovery to the system clipboard, overwriting
// the previous one.
type ClipboardSink struct{}

// Mirror writes the code to the clipboard.
func (ClipboardSink) Mirror(code string) error {
	return clipboard.WriteAll(code)
}
