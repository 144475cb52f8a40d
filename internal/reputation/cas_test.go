package reputation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newCASServer(t *testing.T, banned map[string]bool, export string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var checks atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		checks.Add(1)
		if banned[r.URL.Query().Get("user_id")] {
			fmt.Fprint(w, `{"ok":true,"result":{"offenses":3}}`)
			return
		}
		fmt.Fprint(w, `{"ok":false,"description":"Record not found."}`)
	})
	mux.HandleFunc("/export.csv", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, export)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &checks
}

func TestIsReputationBannedCachesPositiveAnswers(t *testing.T) {
	t.Parallel()

	srv, checks := newCASServer(t, map[string]bool{"13": true}, "")
	cas := NewCAS(srv.URL+"/", time.Second, time.Hour)
	ctx := context.Background()

	banned, err := cas.IsReputationBanned(ctx, 13)
	if err != nil || !banned {
		t.Fatalf("expected banned user, got %v %v", banned, err)
	}
	if _, err := cas.IsReputationBanned(ctx, 13); err != nil {
		t.Fatalf("cached check: %v", err)
	}
	if checks.Load() != 1 {
		t.Fatalf("expected a single remote check, got %d", checks.Load())
	}

	banned, err = cas.IsReputationBanned(ctx, 14)
	if err != nil || banned {
		t.Fatalf("expected clean user, got %v %v", banned, err)
	}
}

func TestIsReputationBannedReportsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	if _, err := NewCAS(srv.URL, time.Second, time.Hour).IsReputationBanned(context.Background(), 1); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestFetchExportReplacesCache(t *testing.T) {
	t.Parallel()

	srv, _ := newCASServer(t, nil, "101,2020-01-01\n\n102\nnot-a-number\n")
	cas := NewCAS(srv.URL, time.Second, time.Hour)
	cas.markKnownBanned(7)

	if err := cas.FetchExport(context.Background()); err != nil {
		t.Fatalf("fetch export: %v", err)
	}
	if !cas.IsKnownBanned(101) || !cas.IsKnownBanned(102) {
		t.Fatalf("export ids missing")
	}
	if cas.IsKnownBanned(7) {
		t.Fatalf("stale id survived the refresh")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	srv, _ := newCASServer(t, nil, "5\n")
	cas := NewCAS(srv.URL, time.Second, time.Hour)
	if err := cas.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cas.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cas.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestKnownBannedConcurrentAccess(t *testing.T) {
	t.Parallel()

	cas := NewCAS("http://127.0.0.1:0", time.Second, time.Hour)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(offset int64) {
			defer wg.Done()
			for i := int64(0); i < 500; i++ {
				cas.markKnownBanned(offset*1000 + i)
			}
		}(int64(w))
		go func(offset int64) {
			defer wg.Done()
			for i := int64(0); i < 500; i++ {
				_ = cas.IsKnownBanned(offset*1000 + i)
			}
		}(int64(w))
	}
	wg.Wait()
	if !cas.IsKnownBanned(1001) {
		t.Fatalf("expected marked id")
	}
}
