package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	casCheckPath  = "/check?user_id=%d"
	casExportPath = "/export.csv"

	defaultTimeout       = 10 * time.Second
	defaultExportRefresh = time.Hour
	maxRetries           = 3
	retryStep            = 300 * time.Millisecond
)

// CAS answers reputation lookups against the Combot Anti-Spam API and keeps
// a cache of known banned ids refreshed from its export.
type CAS struct {
	baseURL       string
	exportRefresh time.Duration
	httpClient    *http.Client
	logger        *log.Entry

	knownBanned map[int64]struct{}
	mapMutex    sync.RWMutex

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewCAS(baseURL string, timeout, exportRefresh time.Duration) *CAS {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if exportRefresh <= 0 {
		exportRefresh = defaultExportRefresh
	}
	return &CAS{
		baseURL:       strings.TrimRight(baseURL, "/"),
		exportRefresh: exportRefresh,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        log.WithField("object", "CAS"),
		knownBanned:   map[int64]struct{}{},
	}
}

func (s *CAS) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		s.refresh(runCtx)

		ticker := time.NewTicker(s.exportRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.refresh(runCtx)
			}
		}
	}()

	s.started = true
	return nil
}

func (s *CAS) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *CAS) refresh(ctx context.Context) {
	if err := s.FetchExport(ctx); err != nil && !isCanceled(err) {
		s.logger.WithField("error", err.Error()).Error("failed to fetch cas export")
	}
}

func (s *CAS) IsKnownBanned(userID int64) bool {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	_, banned := s.knownBanned[userID]
	return banned
}

// IsReputationBanned consults the cache first and the check API second.
func (s *CAS) IsReputationBanned(ctx context.Context, userID int64) (bool, error) {
	if s.IsKnownBanned(userID) {
		return true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+fmt.Sprintf(casCheckPath, userID), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var check struct {
		OK     bool `json:"ok"`
		Result *struct {
			Offenses int `json:"offenses"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	if check.OK {
		s.markKnownBanned(userID)
	}
	return check.OK, nil
}

func (s *CAS) FetchExport(ctx context.Context) error {
	ids, err := fetchWithRetry(ctx, s.httpClient, s.baseURL+casExportPath)
	if err != nil {
		return err
	}
	s.setKnownBanned(ids)
	s.logger.WithField("count", len(ids)).Debug("fetched cas export")
	return nil
}

func (s *CAS) setKnownBanned(banned map[int64]struct{}) {
	snapshot := make(map[int64]struct{}, len(banned))
	for userID := range banned {
		snapshot[userID] = struct{}{}
	}
	s.mapMutex.Lock()
	s.knownBanned = snapshot
	s.mapMutex.Unlock()
}

func (s *CAS) markKnownBanned(userID int64) {
	s.mapMutex.Lock()
	s.knownBanned[userID] = struct{}{}
	s.mapMutex.Unlock()
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
