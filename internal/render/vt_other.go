//go:build !windows

package render

import "os"

// ANSI terminals need no setup
func enableVT(*os.File) (restore func(), err error) {
	return func() {}, nil
}
