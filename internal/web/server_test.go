package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenledger/internal/domain"
)

type memLedger struct {
	mu      sync.Mutex
	records []domain.LedgerRecord
	err     error
}

func (m *memLedger) append(t *testing.T, seq uint64, coin string) {
	t.Helper()

	e, err := domain.NewLedgerEntry("alice", coin, domain.EntryKindBuy, 1, decimal.NewFromInt(10), time.Unix(int64(seq), 0).UTC())
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, domain.LedgerRecord{Entry: e, Seq: seq})
}

func (m *memLedger) EntriesAfter(_ context.Context, seq uint64) ([]domain.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	var out []domain.LedgerRecord
	for _, r := range m.records {
		if r.Seq > seq {
			out = append(out, r)
		}
	}
	return out, nil
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readEvents reads n events from the stream, skipping heartbeats.
func readEvents(t *testing.T, sc *bufio.Scanner, n int) []sseEvent {
	t.Helper()

	var (
		events []sseEvent
		cur    sseEvent
	)
	for len(events) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.Len(t, events, n)
	return events
}

func newTestServer(t *testing.T, store ledgerReader) *httptest.Server {
	t.Helper()

	s := NewServer("", store, zap.NewNop())
	s.PollInterval = 10 * time.Millisecond
	s.HeartbeatInterval = 5 * time.Millisecond

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func openStream(t *testing.T, url, lastEventID string) (*http.Response, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, cancel
}

func TestLedgerStream_ResumesAndPolls(t *testing.T) {
	store := &memLedger{}
	store.append(t, 1, "bitcoin")
	store.append(t, 3, "ethereum")
	store.append(t, 7, "solana")

	srv := newTestServer(t, store)
	resp, cancel := openStream(t, srv.URL+"/ledger/stream", "1")
	defer cancel()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	events := readEvents(t, sc, 2)
	assert.Equal(t, "3", events[0].id)
	assert.Equal(t, "entry", events[0].event)
	assert.Equal(t, "7", events[1].id)

	var entry domain.LedgerEntry
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &entry))
	assert.Equal(t, "solana", entry.Coin)
	assert.Equal(t, "10.00", entry.TotalPrice.StringFixed(2))

	store.append(t, 9, "cardano")
	events = readEvents(t, sc, 1)
	assert.Equal(t, "9", events[0].id)
}

func TestLedgerStream_AfterQuery(t *testing.T) {
	store := &memLedger{}
	store.append(t, 4, "bitcoin")
	store.append(t, 5, "ethereum")

	srv := newTestServer(t, store)
	resp, cancel := openStream(t, srv.URL+"/ledger/stream?after=4", "")
	defer cancel()

	events := readEvents(t, bufio.NewScanner(resp.Body), 1)
	assert.Equal(t, "5", events[0].id)
}

func TestLedgerStream_Errors(t *testing.T) {
	srv := newTestServer(t, &memLedger{})
	resp, err := http.Get(srv.URL + "/ledger/stream?after=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	srv = newTestServer(t, &memLedger{err: errors.New("disk gone")})
	resp, err = http.Get(srv.URL + "/ledger/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	srv = newTestServer(t, nil)
	resp, err = http.Get(srv.URL + "/ledger/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &memLedger{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestParseLastEventID(t *testing.T) {
	id, err := parseLastEventID(" 12 ", "3")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)

	id, err = parseLastEventID("", "3")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	id, err = parseLastEventID("", "")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = parseLastEventID("-1", "")
	assert.Error(t, err)
}
