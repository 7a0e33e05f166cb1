package datasource

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/internal/service/ratelimiter"
)

// observationLimit bounds how much history one series pull carries; two
// years of monthly data is enough context for the analysis prompts.
const observationLimit = 24

// FREDClient pulls macroeconomic series from the St. Louis Fed FRED API.
type FREDClient struct {
	c      *caller
	apiKey string
	base   string
}

func NewFREDClient(cfg config.Config, rdb *redis.Client, limiter ratelimiter.Limiter) *FREDClient {
	return &FREDClient{
		c:      newCaller("fred", cfg, rdb, limiter),
		apiKey: cfg.FREDAPIKey,
		base:   cfg.FREDBaseURL,
	}
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Indicators fetches the requested series and normalizes them into points.
// Individual series failures are tolerated as long as at least one series
// loads; a fully empty result is an error so the pipeline marks the slot.
func (f *FREDClient) Indicators(ctx domain.Context, seriesIDs []string) (domain.EconomicIndicators, error) {
	out := domain.EconomicIndicators{
		Indicators: make(map[string][]domain.SeriesPoint, len(seriesIDs)),
		AsOf:       time.Now().UTC(),
	}
	var lastErr error
	for _, id := range seriesIDs {
		points, err := f.series(ctx, id)
		if err != nil {
			slog.Warn("fred series fetch failed",
				slog.String("series_id", id),
				slog.Any("error", err))
			lastErr = err
			continue
		}
		out.Indicators[id] = points
	}
	if len(out.Indicators) == 0 {
		if lastErr != nil {
			return domain.EconomicIndicators{}, fmt.Errorf("fred: no series loaded: %w", lastErr)
		}
		return domain.EconomicIndicators{}, fmt.Errorf("fred: no series requested")
	}
	return out, nil
}

func (f *FREDClient) series(ctx domain.Context, id string) ([]domain.SeriesPoint, error) {
	q := url.Values{}
	q.Set("series_id", id)
	q.Set("api_key", f.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", strconv.Itoa(observationLimit))

	var resp fredObservationsResponse
	u := f.base + "/fred/series/observations?" + q.Encode()
	if err := f.c.fetchJSON(ctx, "data:fred:"+id, "GET", u, nil, &resp); err != nil {
		return nil, err
	}

	points := make([]domain.SeriesPoint, 0, len(resp.Observations))
	for _, obs := range resp.Observations {
		// FRED encodes missing observations as ".".
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		points = append(points, domain.SeriesPoint{Date: obs.Date, Value: v})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: fred series %s has no numeric observations", domain.ErrSchemaInvalid, id)
	}
	return points, nil
}
