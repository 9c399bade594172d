package erp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

var orderNbrClause = regexp.MustCompile(`OrderNbr eq '((?:[^']|'')*)'`)

// keysOf extracts the order numbers of a chunk request.
func keysOf(r *http.Request) []string {
	var keys []string
	for _, m := range orderNbrClause.FindAllStringSubmatch(r.URL.Query().Get("$filter"), -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// sleepRecorder replaces backoff sleeps and records requested waits.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func testConfig(baseURL string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.MinDelay = 0
	cfg.RequestTimeout = 2 * time.Second
	cfg.BackoffBase = 10 * time.Millisecond
	return cfg
}

func createTestClient(t *testing.T, cfg ClientConfig, opts ...Option) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithSleep(rec.sleep)}, opts...)
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	c.policy.jitter = func(time.Duration) time.Duration { return 0 }
	return c, rec
}

var testToken = ordersync.Token{AccessToken: "test-token"}

func orderRecord(nbr string) map[string]any {
	return map[string]any{"OrderNbr": map[string]any{"value": nbr}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// echoHandler answers each chunk with one record per requested key.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	keys := keysOf(r)
	rows := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, orderRecord(k))
	}
	writeJSON(w, http.StatusOK, rows)
}

func createMockERPServer(_ *testing.T, handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func nbrQuery(customerID string) QueryBuilder {
	return func(keys []string) Query {
		return Query{Filter: OrderNbrFilter(customerID, keys)}
	}
}
