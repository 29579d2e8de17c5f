package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(t *testing.T, handler http.Handler) *Grid {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Grid{
		apiURL:    srv.URL,
		sunrise:   15,
		dayLength: 30,
		client:    srv.Client(),
		cacheFor:  time.Minute,
	}
}

func TestGetDay(t *testing.T) {
	ctx := context.Background()

	t.Run("parses and synthesizes sun", func(t *testing.T) {
		calls := 0
		g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/yesterday", r.URL.Path)
			calls++
			w.Write([]byte(`[
				{"tick":0,"demand":12,"buy_price":40,"sell_price":42},
				{"tick":30,"demand":8,"buy_price":35,"sell_price":38,"sun":77}
			]`))
		}))

		ticks, err := g.GetDay(ctx)
		require.NoError(t, err)
		require.Len(t, ticks, 2)

		assert.Equal(t, 0, ticks[0].ID)
		assert.Zero(t, ticks[0].Sun, "tick 0 is before sunrise")
		assert.Equal(t, 77, ticks[1].Sun, "explicit sun passes through")

		// Second call inside the cache window does not refetch.
		_, err = g.GetDay(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("skips malformed entries", func(t *testing.T) {
		g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"tick":0,"demand":-5,"buy_price":40,"sell_price":42},
				{"tick":1,"demand":5,"buy_price":40,"sell_price":42}
			]`))
		}))

		ticks, err := g.GetDay(ctx)
		require.NoError(t, err)
		require.Len(t, ticks, 1)
		assert.Equal(t, 1, ticks[0].ID)
	})

	t.Run("all malformed is an error", func(t *testing.T) {
		g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"tick":-1,"demand":1,"buy_price":1,"sell_price":1}]`))
		}))
		_, err := g.GetDay(ctx)
		assert.Error(t, err)
	})

	t.Run("non-200 status", func(t *testing.T) {
		g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		_, err := g.GetDay(ctx)
		assert.Error(t, err)
	})
}

func TestGetLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/current", r.URL.Path)
			w.Write([]byte(`{"tick":23,"demand":6,"buy_price":44,"sell_price":46,"sun":61}`))
		}))
		tick, err := g.GetLatest(ctx)
		require.NoError(t, err)
		assert.Equal(t, 23, tick.ID)
		assert.Equal(t, 61, tick.Sun)
	})

	t.Run("malformed live tick is an error", func(t *testing.T) {
		g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tick":5,"demand":1,"buy_price":-2,"sell_price":1}`))
		}))
		_, err := g.GetLatest(ctx)
		assert.Error(t, err)
	})
}

func TestGetDeferrables(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deferables", r.URL.Path)
		w.Write([]byte(`[{"start":3,"end":9,"energy":14.5}]`))
	}))

	tasks, err := g.GetDeferrables(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 3, tasks[0].Start)
	assert.Equal(t, 14.5, tasks[0].Demand, "alternate energy field normalized")
}

func TestSyntheticSun(t *testing.T) {
	g := &Grid{sunrise: 15, dayLength: 30}

	assert.Zero(t, g.syntheticSun(0))
	assert.Zero(t, g.syntheticSun(14))
	assert.Zero(t, g.syntheticSun(45))
	assert.Equal(t, 100, g.syntheticSun(30), "solar noon")
	assert.Zero(t, g.syntheticSun(15), "sunrise itself is zero")
	assert.Greater(t, g.syntheticSun(20), 0)
}

func TestValidate(t *testing.T) {
	g := &Grid{apiURL: "https://example.com", dayLength: 30}
	assert.NoError(t, g.Validate())

	assert.Error(t, (&Grid{dayLength: 30}).Validate())
	assert.Error(t, (&Grid{apiURL: "https://example.com"}).Validate())
}
