package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaot623/fedchat/internal/protocol"
)

// StatsClient is an HTTP client for the database statistics endpoint.
type StatsClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	stats *protocol.Stats
}

// NewStatsClient creates a stats client for the service at baseURL.
func NewStatsClient(baseURL string) *StatsClient {
	return &StatsClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Load fetches the statistics once. After the first success the cached
// value is returned; a failed fetch is retried on the next call.
func (c *StatsClient) Load(ctx context.Context) (*protocol.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats != nil {
		return c.stats, nil
	}

	stats, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.stats = stats
	return stats, nil
}

func (c *StatsClient) fetch(ctx context.Context) (*protocol.Stats, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.StatsPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create stats request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "load database stats")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("stats endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var stats protocol.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, errors.Wrap(err, "decode stats response")
	}
	return &stats, nil
}
