package infra

import (
	"errors"
	"strings"
	"testing"
)

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	t.Parallel()

	err := Recover("purge", func() error {
		panic("nil map")
	})
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	if !strings.Contains(err.Error(), "purge panicked: nil map") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecoverPassesThroughErrors(t *testing.T) {
	t.Parallel()

	want := errors.New("boom")
	if err := Recover("job", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}

func TestGetWorkDirCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir, err := GetWorkDir(t.TempDir(), "data")
	if err != nil {
		t.Fatalf("get work dir: %v", err)
	}
	if !strings.HasSuffix(dir, "data") {
		t.Fatalf("unexpected dir: %s", dir)
	}
}
