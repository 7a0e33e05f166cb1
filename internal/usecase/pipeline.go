package usecase

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/internal/refdata"
)

// DataPipeline fans out to the upstream providers and merges their results
// into one snapshot. Slot failures never abort the batch: the slot stays nil
// and the failure is recorded in Errors so analysis can degrade gracefully.
type DataPipeline struct {
	Economy      domain.EconomicDataSource
	Labor        domain.LaborDataSource
	Demographics domain.DemographicsDataSource
	Market       domain.MarketDataSource
	Ref          *refdata.Lookup
}

func NewDataPipeline(
	economy domain.EconomicDataSource,
	labor domain.LaborDataSource,
	demographics domain.DemographicsDataSource,
	market domain.MarketDataSource,
	ref *refdata.Lookup,
) DataPipeline {
	return DataPipeline{
		Economy:      economy,
		Labor:        labor,
		Demographics: demographics,
		Market:       market,
		Ref:          ref,
	}
}

// Snapshot pulls all four data slots concurrently for the profile's sector
// and location.
func (p DataPipeline) Snapshot(ctx domain.Context, profile domain.BusinessProfile) domain.EconomicSnapshot {
	sector, known := p.Ref.Sector(profile.Sector)
	if !known {
		slog.Info("unknown sector, using default data footprint",
			slog.String("sector", profile.Sector))
	}

	snap := domain.EconomicSnapshot{
		Errors:    make(map[string]string),
		FetchedAt: time.Now().UTC(),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup

	slot := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				slog.Warn("data slot failed",
					slog.String("slot", name),
					slog.Any("error", err))
				mu.Lock()
				snap.Errors[name] = err.Error()
				mu.Unlock()
			}
		}()
	}

	slot("economy", func() error {
		ind, err := p.Economy.Indicators(ctx, sector.FREDSeries)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Economy = &ind
		mu.Unlock()
		return nil
	})

	slot("labor", func() error {
		ls, err := p.Labor.Series(ctx, sector.BLSSeries)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Labor = &ls
		mu.Unlock()
		return nil
	})

	slot("demographics", func() error {
		d, err := p.Demographics.Lookup(ctx, profile.State, profile.County)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Demographics = &d
		mu.Unlock()
		return nil
	})

	slot("market", func() error {
		quotes := make([]domain.SectorQuote, 0, len(sector.ETFSymbols))
		var lastErr error
		for _, sym := range sector.ETFSymbols {
			q, err := p.Market.Quote(ctx, sym)
			if err != nil {
				lastErr = err
				continue
			}
			quotes = append(quotes, q)
		}
		if len(quotes) == 0 && lastErr != nil {
			return lastErr
		}
		mu.Lock()
		snap.Market = quotes
		mu.Unlock()
		return nil
	})

	wg.Wait()
	if len(snap.Errors) == 0 {
		snap.Errors = nil
	}
	return snap
}
