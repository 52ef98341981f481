//go:build windows

package render

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// enableVT turns on escape sequence processing for the console behind f.
// restore puts back the mode the console had before
func enableVT(f *os.File) (restore func(), err error) {
	h := windows.Handle(f.Fd())
	var prev uint32
	if err := windows.GetConsoleMode(h, &prev); err != nil {
		return nil, fmt.Errorf("console mode of %s: %w", f.Name(), err)
	}
	if prev&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 {
		return func() {}, nil
	}
	if err := windows.SetConsoleMode(h, prev|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING); err != nil {
		return nil, fmt.Errorf("enable VT on %s: %w", f.Name(), err)
	}
	return func() { _ = windows.SetConsoleMode(h, prev) }, nil
}
