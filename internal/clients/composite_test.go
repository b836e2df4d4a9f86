package clients

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fundfolio/internal/clientdata"
	"github.com/aristath/fundfolio/internal/modules/funds"
)

type stubProvider struct {
	name  string
	quote *funds.Quote
	err   error
	calls int
}

func (s *stubProvider) Fetch(ctx context.Context, code string) (*funds.Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	q := *s.quote
	q.Code = code
	return &q, nil
}

func (s *stubProvider) Name() string { return s.name }

func setupCache(t *testing.T) *clientdata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE eastmoney_realtime (code TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
		CREATE TABLE sina_realtime (code TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
	`)
	require.NoError(t, err)

	return clientdata.NewRepository(db)
}

func TestCompositePrefersFirstSource(t *testing.T) {
	primary := &stubProvider{name: "eastmoney", quote: &funds.Quote{Nav: 1.5, Source: "eastmoney"}}
	fallback := &stubProvider{name: "sina", quote: &funds.Quote{Nav: 1.4, Source: "sina"}}

	c := NewComposite(nil, zerolog.Nop(),
		Source{Provider: primary, Table: "eastmoney_realtime"},
		Source{Provider: fallback, Table: "sina_realtime"},
	)

	quote, err := c.Fetch(context.Background(), "005827")
	require.NoError(t, err)

	assert.Equal(t, "eastmoney", quote.Source)
	assert.Equal(t, 0, fallback.calls)
}

func TestCompositeFallsBackOnError(t *testing.T) {
	primary := &stubProvider{name: "eastmoney", err: errors.New("upstream down")}
	fallback := &stubProvider{name: "sina", quote: &funds.Quote{Nav: 1.4, Source: "sina"}}

	c := NewComposite(nil, zerolog.Nop(),
		Source{Provider: primary, Table: "eastmoney_realtime"},
		Source{Provider: fallback, Table: "sina_realtime"},
	)

	quote, err := c.Fetch(context.Background(), "005827")
	require.NoError(t, err)

	assert.Equal(t, "sina", quote.Source)
	assert.Equal(t, 1, primary.calls)
}

func TestCompositeCachesQuotes(t *testing.T) {
	cache := setupCache(t)
	primary := &stubProvider{name: "eastmoney", quote: &funds.Quote{Nav: 1.5, Source: "eastmoney"}}

	c := NewComposite(cache, zerolog.Nop(),
		Source{Provider: primary, Table: "eastmoney_realtime"},
	)

	_, err := c.Fetch(context.Background(), "005827")
	require.NoError(t, err)

	quote, err := c.Fetch(context.Background(), "005827")
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1.5, quote.Nav)
}

func TestCompositeStaleFallback(t *testing.T) {
	cache := setupCache(t)
	require.NoError(t, cache.Store("sina_realtime", "005827",
		funds.Quote{Code: "005827", Nav: 1.3, Source: "sina"}, -clientdata.TTLRealtime))

	primary := &stubProvider{name: "eastmoney", err: errors.New("upstream down")}
	fallback := &stubProvider{name: "sina", err: errors.New("also down")}

	c := NewComposite(cache, zerolog.Nop(),
		Source{Provider: primary, Table: "eastmoney_realtime"},
		Source{Provider: fallback, Table: "sina_realtime"},
	)

	quote, err := c.Fetch(context.Background(), "005827")
	require.NoError(t, err)

	assert.Equal(t, 1.3, quote.Nav)
	assert.Equal(t, "sina", quote.Source)
}

func TestCompositeAllFailNoCache(t *testing.T) {
	primary := &stubProvider{name: "eastmoney", err: errors.New("upstream down")}

	c := NewComposite(nil, zerolog.Nop(),
		Source{Provider: primary, Table: "eastmoney_realtime"},
	)

	_, err := c.Fetch(context.Background(), "005827")
	assert.Error(t, err)
}
