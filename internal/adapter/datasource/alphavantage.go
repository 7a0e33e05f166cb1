package datasource

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/internal/service/ratelimiter"
)

// AlphaVantageClient pulls delayed quotes for sector proxy ETFs.
type AlphaVantageClient struct {
	c      *caller
	apiKey string
	base   string
}

func NewAlphaVantageClient(cfg config.Config, rdb *redis.Client, limiter ratelimiter.Limiter) *AlphaVantageClient {
	return &AlphaVantageClient{
		c:      newCaller("alphavantage", cfg, rdb, limiter),
		apiKey: cfg.AlphaVantageAPIKey,
		base:   cfg.AlphaVantageBaseURL,
	}
}

type globalQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	// Alpha Vantage reports quota exhaustion inside a 200 body.
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// Quote fetches the latest GLOBAL_QUOTE for symbol.
func (a *AlphaVantageClient) Quote(ctx domain.Context, symbol string) (domain.SectorQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.SectorQuote{}, fmt.Errorf("%w: empty symbol", domain.ErrInvalidArgument)
	}

	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", a.apiKey)

	var resp globalQuoteResponse
	u := a.base + "/query?" + q.Encode()
	if err := a.c.fetchJSON(ctx, "data:av:quote:"+symbol, "GET", u, nil, &resp); err != nil {
		return domain.SectorQuote{}, err
	}
	if resp.Note != "" || resp.Information != "" {
		return domain.SectorQuote{}, fmt.Errorf("%w: alphavantage quota: %s%s",
			domain.ErrUpstreamRateLimit, resp.Note, resp.Information)
	}
	gq := resp.GlobalQuote
	if len(gq) == 0 {
		return domain.SectorQuote{}, fmt.Errorf("%w: alphavantage empty quote for %s", domain.ErrSchemaInvalid, symbol)
	}

	price, _ := strconv.ParseFloat(gq["05. price"], 64)
	change, _ := strconv.ParseFloat(gq["09. change"], 64)
	pct, _ := strconv.ParseFloat(strings.TrimSuffix(gq["10. change percent"], "%"), 64)
	if price == 0 {
		return domain.SectorQuote{}, fmt.Errorf("%w: alphavantage quote missing price for %s", domain.ErrSchemaInvalid, symbol)
	}

	return domain.SectorQuote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		LatestDay:     gq["07. latest trading day"],
	}, nil
}
