package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/jouleflow/jouleflow/pkg/common"
	"github.com/jouleflow/jouleflow/pkg/log"
	"github.com/jouleflow/jouleflow/pkg/types"
)

// Grid implements Provider against the simulated grid's HTTP API. The day
// series is cached briefly since the planning data only changes once per day.
type Grid struct {
	apiURL    string
	sunrise   int
	dayLength int
	client    *http.Client

	mu            sync.Mutex
	lastFetchTime time.Time
	cachedDay     []types.Tick
	cacheFor      time.Duration
}

// configuredGrid sets up flags for the grid feed and returns the instance.
func configuredGrid() *Grid {
	g := &Grid{
		client:   common.HTTPClient(10 * time.Second),
		cacheFor: time.Minute,
	}
	apiURL := lflag.String("feed-api-url", "https://icelec50015.azurewebsites.net", "URL for the grid data API")
	sunrise := lflag.String("feed-sunrise-tick", "15", "tick at which synthetic sun rises when the feed omits sun data")
	dayLength := lflag.String("feed-day-length", "30", "number of ticks of synthetic daylight")

	lflag.Do(func() {
		g.apiURL = *apiURL
		g.sunrise, _ = strconv.Atoi(*sunrise)
		g.dayLength, _ = strconv.Atoi(*dayLength)
	})

	return g
}

// Validate ensures the configuration is valid.
func (g *Grid) Validate() error {
	if g.apiURL == "" {
		return fmt.Errorf("feed-api-url is required")
	}
	if _, err := url.Parse(g.apiURL); err != nil {
		return fmt.Errorf("failed to parse feed url (%s): %w", g.apiURL, err)
	}
	if g.dayLength <= 0 {
		return fmt.Errorf("feed-day-length must be > 0")
	}
	return nil
}

// wireTick is the feed's JSON shape. Sun is a pointer so an omitted field can
// be synthesized rather than read as zero.
type wireTick struct {
	Tick      int     `json:"tick"`
	Demand    float64 `json:"demand"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Sun       *int    `json:"sun"`
}

// GetDay returns the full tick series for the planning day. Malformed
// entries are skipped with a warning; an entirely empty response is an error.
func (g *Grid) GetDay(ctx context.Context) ([]types.Tick, error) {
	g.mu.Lock()
	if !g.lastFetchTime.IsZero() && time.Since(g.lastFetchTime) < g.cacheFor {
		day := g.cachedDay
		g.mu.Unlock()
		return day, nil
	}
	g.mu.Unlock()

	var raw []wireTick
	if err := g.getJSON(ctx, "/yesterday", &raw); err != nil {
		return nil, err
	}

	ticks := make([]types.Tick, 0, len(raw))
	for _, w := range raw {
		t := g.toTick(w)
		if err := t.Validate(); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed tick from feed", slog.Any("error", err))
			continue
		}
		ticks = append(ticks, t)
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("feed returned no usable ticks")
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched day series", slog.Int("count", len(ticks)))

	g.mu.Lock()
	g.cachedDay = ticks
	g.lastFetchTime = time.Now()
	g.mu.Unlock()

	return ticks, nil
}

// GetLatest returns the most recent live tick.
func (g *Grid) GetLatest(ctx context.Context) (types.Tick, error) {
	var w wireTick
	if err := g.getJSON(ctx, "/current", &w); err != nil {
		return types.Tick{}, err
	}
	t := g.toTick(w)
	if err := t.Validate(); err != nil {
		return types.Tick{}, fmt.Errorf("malformed live tick: %w", err)
	}
	return t, nil
}

// GetDeferrables returns the outstanding deferrable demand tasks. A failure
// here is not fatal to the run; callers log and continue without them.
func (g *Grid) GetDeferrables(ctx context.Context) ([]types.DeferrableTask, error) {
	var tasks []types.DeferrableTask
	if err := g.getJSON(ctx, "/deferables", &tasks); err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched deferrable demands", slog.Int("count", len(tasks)))
	return tasks, nil
}

func (g *Grid) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching from feed", slog.String("path", path))

	resp, err := g.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch from feed", slog.String("path", path), slog.Any("error", err))
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed api returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// toTick converts a wire tick, synthesizing the solar curve when the feed
// omits it: a half sine over the daylight window, zero at night.
func (g *Grid) toTick(w wireTick) types.Tick {
	t := types.Tick{
		ID:        w.Tick,
		Demand:    w.Demand,
		BuyPrice:  w.BuyPrice,
		SellPrice: w.SellPrice,
	}
	if w.Sun != nil {
		t.Sun = *w.Sun
	} else {
		t.Sun = g.syntheticSun(w.Tick)
	}
	return t
}

func (g *Grid) syntheticSun(tick int) int {
	if tick < g.sunrise || tick >= g.sunrise+g.dayLength {
		return 0
	}
	return int(math.Sin(float64(tick-g.sunrise)*math.Pi/float64(g.dayLength)) * 100)
}
