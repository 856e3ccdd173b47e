package main

import (
	"os"
	"path/filepath"
	"testing"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	tassert(t, err == nil, "Pipe: %v", err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	tassert(t, w.Close() == nil, "close pipe writer")
	buf := make([]byte, 64*1024)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestGuidancePrintsKnownKeys(t *testing.T) {
	out := captureStdout(t, func() {
		code := run([]string{"guidance"})
		tassert(t, code == 0, "expected exit code 0, got %d", code)
	})
	tassert(t, len(out) > 0, "expected guidance output, got empty string")
	tassert(t, contains(out, "recursive-namespace"), "expected guidance to mention recursive-namespace, got %q", out)
}

func TestKeygenWritesKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.key")
	out := captureStdout(t, func() {
		code := run([]string{"keygen", path})
		tassert(t, code == 0, "expected exit code 0, got %d", code)
	})
	tassert(t, contains(out, path), "expected keygen to report the path it wrote, got %q", out)

	info, err := os.Stat(path)
	tassert(t, err == nil, "Stat: %v", err)
	tassert(t, info.Size() > 0, "expected a non-empty key file")
}

func TestUsageOnNoCommand(t *testing.T) {
	code := run([]string{})
	tassert(t, code != 0, "expected a non-zero exit code for no command, got 0")
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
