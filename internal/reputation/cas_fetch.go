package reputation

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func fetchWithRetry(ctx context.Context, client *http.Client, url string) (map[int64]struct{}, error) {
	var lastErr error
	for attempt := range maxRetries {
		ids, err := fetchIDs(ctx, client, url)
		if err == nil {
			return ids, nil
		}
		lastErr = err

		if attempt == maxRetries-1 {
			break
		}

		backoff := time.Duration(attempt+1) * retryStep
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("fetch %s failed after retries: %w", url, lastErr)
}

// fetchIDs reads one user id per line; the first csv column wins.
func fetchIDs(ctx context.Context, client *http.Client, url string) (map[int64]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "text/csv")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	results := make(map[int64]struct{})
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		field, _, _ := strings.Cut(scanner.Text(), ",")
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		userID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		results[userID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan response body: %w", err)
	}
	return results, nil
}
