package view

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/db"
	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/host"
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/testutil"
	"github.com/roach88/liveview/internal/transport"
)

type fixture struct {
	host  *host.Host
	ft    *testutil.FaultyTransport
	db    *db.DB
	cache *Cache
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, catalog *ir.Catalog) *fixture {
	t.Helper()
	h := testutil.NewHost(t, catalog)
	ft := testutil.NewFaultyTransport(testutil.Connect(t, h))
	d := db.New(ft, db.WithCatalog(h.Catalog()), db.WithLogger(testutil.DiscardLogger()))
	reg := prometheus.NewRegistry()
	c := NewCache(d, WithLogger(testutil.DiscardLogger()), WithMetrics(NewMetrics(reg)))
	return &fixture{host: h, ft: ft, db: d, cache: c, reg: reg}
}

// run starts the notification loop, stopped on cleanup.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.cache.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// settle waits until the loop has processed everything the host published.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.cache.LastSeq() == f.host.Seq()
	}, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) fetch(t *testing.T, table string, flt filter.Filter) *TableView {
	t.Helper()
	v, err := f.cache.FetchTable(context.Background(), table, flt)
	require.NoError(t, err)
	return v
}

func (f *fixture) notify(t *testing.T, change transport.ChangeType, table string, row ir.Row) {
	t.Helper()
	require.NoError(t, f.cache.Apply(context.Background(), transport.Notification{Table: table, Change: change, Row: row}))
}

func viewIDs(t *testing.T, v *TableView) []int64 {
	t.Helper()
	ids, err := v.IDs()
	require.NoError(t, err)
	if ids == nil {
		ids = []int64{}
	}
	return ids
}

// recorder collects events delivered to a subscriber.
type recorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *recorder[E]) record(e E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder[E]) take() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}
