package main

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// lineReader hands out stdin lines to whoever asks first: the login
// prompt or the command loop of the current run
type lineReader struct {
	lines chan string
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string)}
	go func() {
		defer close(lr.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lr.lines <- strings.TrimSpace(sc.Text())
		}
	}()
	return lr
}

// ReadLine returns the next line, io.EOF once input ended
func (lr *lineReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case l, ok := <-lr.lines:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
