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

// ACS vintage and variables: total population and median household income.
const (
	acsDataset = "/data/2023/acs/acs5"
	cbpDataset = "/data/2022/cbp"

	varPopulation   = "B01003_001E"
	varMedianIncome = "B19013_001E"
)

// FIPSResolver maps a state name or USPS abbreviation to its FIPS code.
type FIPSResolver interface {
	StateFIPS(state string) (string, bool)
}

// CensusClient pulls demographics from the Census ACS 5-year estimates and
// business counts from County Business Patterns.
type CensusClient struct {
	c      *caller
	apiKey string
	base   string
	fips   FIPSResolver
}

func NewCensusClient(cfg config.Config, rdb *redis.Client, limiter ratelimiter.Limiter, fips FIPSResolver) *CensusClient {
	return &CensusClient{
		c:      newCaller("census", cfg, rdb, limiter),
		apiKey: cfg.CensusAPIKey,
		base:   cfg.CensusBaseURL,
		fips:   fips,
	}
}

// Lookup resolves demographics for the profile's location. County data is
// matched by name within the state; when the county is empty or unmatched
// the state-level figures are used.
func (cc *CensusClient) Lookup(ctx domain.Context, state, county string) (domain.Demographics, error) {
	stateFIPS, ok := cc.fips.StateFIPS(state)
	if !ok {
		return domain.Demographics{}, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidArgument, state)
	}

	out := domain.Demographics{State: state, County: county}

	if err := cc.fillACS(ctx, &out, stateFIPS, county); err != nil {
		return domain.Demographics{}, err
	}
	if err := cc.fillCBP(ctx, &out, stateFIPS); err != nil {
		return domain.Demographics{}, err
	}
	return out, nil
}

func (cc *CensusClient) fillACS(ctx domain.Context, out *domain.Demographics, stateFIPS, county string) error {
	q := url.Values{}
	q.Set("get", "NAME,"+varPopulation+","+varMedianIncome)
	if county != "" {
		q.Set("for", "county:*")
		q.Set("in", "state:"+stateFIPS)
	} else {
		q.Set("for", "state:"+stateFIPS)
	}
	if cc.apiKey != "" {
		q.Set("key", cc.apiKey)
	}

	var rows [][]string
	cacheKey := "data:census:acs:" + stateFIPS + ":" + strings.ToLower(county)
	if err := cc.c.fetchJSON(ctx, cacheKey, "GET", cc.base+acsDataset+"?"+q.Encode(), nil, &rows); err != nil {
		return err
	}
	// First row is the header.
	if len(rows) < 2 {
		return fmt.Errorf("%w: census acs returned no data rows", domain.ErrSchemaInvalid)
	}

	row := rows[1]
	if county != "" {
		row = nil
		needle := strings.ToLower(county)
		for _, r := range rows[1:] {
			if len(r) >= 3 && strings.HasPrefix(strings.ToLower(r[0]), needle) {
				row = r
				break
			}
		}
		if row == nil {
			// Unknown county: fall back to state totals.
			return cc.fillACS(ctx, out, stateFIPS, "")
		}
	}
	if len(row) < 3 {
		return fmt.Errorf("%w: census acs row too short", domain.ErrSchemaInvalid)
	}

	out.Population, _ = strconv.ParseInt(row[1], 10, 64)
	out.MedianIncome, _ = strconv.ParseFloat(row[2], 64)
	return nil
}

func (cc *CensusClient) fillCBP(ctx domain.Context, out *domain.Demographics, stateFIPS string) error {
	q := url.Values{}
	q.Set("get", "ESTAB,EMP,PAYANN")
	q.Set("for", "state:"+stateFIPS)
	if cc.apiKey != "" {
		q.Set("key", cc.apiKey)
	}

	var rows [][]string
	cacheKey := "data:census:cbp:" + stateFIPS
	if err := cc.c.fetchJSON(ctx, cacheKey, "GET", cc.base+cbpDataset+"?"+q.Encode(), nil, &rows); err != nil {
		return err
	}
	if len(rows) < 2 || len(rows[1]) < 3 {
		return fmt.Errorf("%w: census cbp returned no data rows", domain.ErrSchemaInvalid)
	}

	row := rows[1]
	out.BusinessCount, _ = strconv.ParseInt(row[0], 10, 64)
	out.EmploymentTotal, _ = strconv.ParseInt(row[1], 10, 64)
	// PAYANN is reported in thousands of dollars.
	payann, _ := strconv.ParseFloat(row[2], 64)
	out.AnnualPayrollUSD = payann * 1000
	return nil
}
