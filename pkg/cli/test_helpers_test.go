package cli

import (
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout points os.Stdout at a pipe until the returned function is
// called, which restores it and returns everything written. The pipe is
// drained concurrently so large result tables cannot block the writer.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = orig })

	captured := make(chan string, 1)
	go func() {
		var sb strings.Builder
		_, _ = io.Copy(&sb, r)
		captured <- sb.String()
	}()

	return func() string {
		_ = w.Close()
		os.Stdout = orig
		return <-captured
	}
}
