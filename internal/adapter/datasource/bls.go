package datasource

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/internal/service/ratelimiter"
)

// BLSClient pulls employment and wage series from the BLS public API. The
// v2 endpoint takes a batch of series IDs in one POST.
type BLSClient struct {
	c      *caller
	apiKey string
	base   string
}

func NewBLSClient(cfg config.Config, rdb *redis.Client, limiter ratelimiter.Limiter) *BLSClient {
	return &BLSClient{
		c:      newCaller("bls", cfg, rdb, limiter),
		apiKey: cfg.BLSAPIKey,
		base:   cfg.BLSBaseURL,
	}
}

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

type blsResponse struct {
	Status  string `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year   string `json:"year"`
				Period string `json:"period"`
				Value  string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// Series fetches the requested series covering the trailing two calendar
// years.
func (b *BLSClient) Series(ctx domain.Context, seriesIDs []string) (domain.LaborStatistics, error) {
	if len(seriesIDs) == 0 {
		return domain.LaborStatistics{}, fmt.Errorf("%w: no series requested", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	req := blsRequest{
		SeriesID:        seriesIDs,
		StartYear:       strconv.Itoa(now.Year() - 1),
		EndYear:         strconv.Itoa(now.Year()),
		RegistrationKey: b.apiKey,
	}

	var resp blsResponse
	cacheKey := "data:bls:" + strings.Join(seriesIDs, ",")
	u := b.base + "/publicAPI/v2/timeseries/data/"
	if err := b.c.fetchJSON(ctx, cacheKey, "POST", u, req, &resp); err != nil {
		return domain.LaborStatistics{}, err
	}
	if !strings.EqualFold(resp.Status, "REQUEST_SUCCEEDED") {
		return domain.LaborStatistics{}, fmt.Errorf("%w: bls status %q: %s",
			domain.ErrSchemaInvalid, resp.Status, strings.Join(resp.Message, "; "))
	}

	out := domain.LaborStatistics{
		Series: make(map[string][]domain.SeriesPoint, len(resp.Results.Series)),
		AsOf:   now,
	}
	for _, s := range resp.Results.Series {
		points := make([]domain.SeriesPoint, 0, len(s.Data))
		for _, d := range s.Data {
			v, err := strconv.ParseFloat(d.Value, 64)
			if err != nil {
				continue
			}
			points = append(points, domain.SeriesPoint{Date: periodDate(d.Year, d.Period), Value: v})
		}
		if len(points) == 0 {
			continue
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Date > points[j].Date })
		out.Series[s.SeriesID] = points
	}
	if len(out.Series) == 0 {
		return domain.LaborStatistics{}, fmt.Errorf("%w: bls returned no usable series", domain.ErrSchemaInvalid)
	}
	return out, nil
}

// periodDate converts a BLS year/period pair (e.g. 2024 + "M03") to an
// ISO-ish month date. Annual averages ("M13"/"A01") map to the year.
func periodDate(year, period string) string {
	if strings.HasPrefix(period, "M") && period != "M13" {
		return year + "-" + strings.TrimPrefix(period, "M") + "-01"
	}
	if strings.HasPrefix(period, "Q") {
		return year + "-" + period
	}
	return year
}
