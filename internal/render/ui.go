package render

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// InPlaceUI redraws frames over each other (home + clear + redraw). On a
// non-terminal output it falls back to appending frames
type InPlaceUI struct {
	out     *bufio.Writer
	tty     bool
	restore func()
}

// NewInPlaceUI prepares f for drawing
func NewInPlaceUI(f *os.File) (*InPlaceUI, error) {
	ui := &InPlaceUI{
		out: bufio.NewWriterSize(f, 1<<20),
		tty: term.IsTerminal(int(f.Fd())),
	}
	if !ui.tty {
		return ui, nil
	}

	restore, err := enableVT(f)
	if err != nil {
		return nil, err
	}
	ui.restore = restore
	fmt.Fprint(ui.out, "\x1b[?1049h") // enter alternate screen
	fmt.Fprint(ui.out, "\x1b[2J")     // clear screen
	fmt.Fprint(ui.out, "\x1b[H")      // cursor home
	fmt.Fprint(ui.out, "\x1b[?25l")   // hide cursor
	return ui, ui.out.Flush()
}

// newWriterUI draws to w as plain output
func newWriterUI(w io.Writer) *InPlaceUI {
	return &InPlaceUI{out: bufio.NewWriter(w)}
}

// Terminal reports whether frames are drawn in place
func (ui *InPlaceUI) Terminal() bool {
	return ui.tty
}

func (ui *InPlaceUI) Close() {
	if ui.out == nil {
		return
	}
	if ui.tty {
		fmt.Fprint(ui.out, "\x1b[?25h")   // show cursor
		fmt.Fprint(ui.out, "\x1b[?1049l") // leave alternate screen
	}
	_ = ui.out.Flush()
	if ui.restore != nil {
		ui.restore()
		ui.restore = nil
	}
}

// Draw replaces the previous frame with block
func (ui *InPlaceUI) Draw(block string) error {
	if ui.out == nil {
		return nil
	}
	if ui.tty {
		fmt.Fprint(ui.out, "\x1b[H")  // cursor home
		fmt.Fprint(ui.out, "\x1b[0J") // clear from cursor to end of screen
	}
	fmt.Fprint(ui.out, block)
	return ui.out.Flush()
}

// Rows returns how many table rows fit the terminal, or def when the size
// is unknown
func Rows(f *os.File, def int) int {
	_, h, err := term.GetSize(int(f.Fd()))
	if err != nil || h <= 0 {
		return def
	}
	// header, rules and toasts take roughly a dozen lines per frame
	rows := (h - 12) / 2
	if rows < 3 {
		return 3
	}
	return min(rows, def)
}
