package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

func TestAnalyzer_PerformanceTypedDecode(t *testing.T) {
	engine := newFakeEngine()
	engine.outcomes[domain.TaskBusinessPerformance] = jsonOutcome(map[string]any{
		"summary":         "Solid fundamentals.",
		"growth_outlook":  "expanding",
		"revenue_drivers": []any{"contracts", "automation demand"},
		"risk_factors":    []any{"rates"},
		"score":           7.5,
		"_source":         "gemini",
		"_key":            "0001",
	})
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	rec := a.Performance(context.Background(), techProfile(), domain.EconomicSnapshot{})
	require.False(t, rec.Degraded)
	require.Equal(t, "Solid fundamentals.", rec.Summary)
	require.Equal(t, 7.5, rec.Score)
	require.Equal(t, []string{"contracts", "automation demand"}, rec.RevenueDrivers)

	// The prompt embeds the profile.
	require.Contains(t, engine.prompts[domain.TaskBusinessPerformance], "Acme")
}

func TestAnalyzer_SchemaMismatchDegrades(t *testing.T) {
	engine := newFakeEngine()
	// Parsed JSON but missing every expected field.
	engine.outcomes[domain.TaskBusinessPerformance] = jsonOutcome(map[string]any{"unexpected": true})
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	rec := a.Performance(context.Background(), techProfile(), domain.EconomicSnapshot{})
	require.True(t, rec.Degraded)
	require.Equal(t, float64(-1), rec.Score)
	require.NotEmpty(t, rec.Summary)
}

func TestAnalyzer_RawTextSalvagedIntoSummary(t *testing.T) {
	engine := newFakeEngine()
	engine.outcomes[domain.TaskMarketIntelligence] = domain.Outcome{
		Kind:    domain.OutcomeRawText,
		RawText: "The sector looks broadly healthy though rates are a headwind.",
		Source:  "openrouter", Fallback: true,
	}
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	rec := a.MarketIntel(context.Background(), techProfile(), domain.EconomicSnapshot{})
	require.True(t, rec.Degraded)
	require.Contains(t, rec.Summary, "broadly healthy")
}

func TestAnalyzer_TerminalErrorGetsCannedRecord(t *testing.T) {
	engine := newFakeEngine() // returns OutcomeError by default
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	rec := a.Investment(context.Background(), techProfile(), domain.EconomicSnapshot{})
	require.True(t, rec.Degraded)
	require.Equal(t, "unknown", rec.RiskLevel)
	require.NotEmpty(t, rec.Summary)
}

func TestAnalyzer_SynthesizeFromJSON(t *testing.T) {
	engine := newFakeEngine()
	engine.outcomes[domain.TaskSynthesisReporting] = jsonOutcome(map[string]any{
		"synthesis": "Overall the business is well positioned.",
	})
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	s, degraded := a.Synthesize(context.Background(), techProfile(),
		domain.PerformanceAnalysis{Summary: "ok"},
		domain.MarketIntelligence{Summary: "ok"},
		domain.InvestmentAdvice{Summary: "ok"})
	require.False(t, degraded)
	require.Equal(t, "Overall the business is well positioned.", s)
}

func TestAnalyzer_SynthesizeAcceptsRawProse(t *testing.T) {
	engine := newFakeEngine()
	engine.outcomes[domain.TaskSynthesisReporting] = domain.Outcome{
		Kind:    domain.OutcomeRawText,
		RawText: "  A prose executive summary.  ",
	}
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	s, degraded := a.Synthesize(context.Background(), techProfile(),
		domain.PerformanceAnalysis{}, domain.MarketIntelligence{}, domain.InvestmentAdvice{})
	require.False(t, degraded)
	require.Equal(t, "A prose executive summary.", s)
}

func TestAnalyzer_SynthesizeDegradesOnError(t *testing.T) {
	engine := newFakeEngine()
	a := NewAnalyzer(engine, "gemini-1.5-flash")

	s, degraded := a.Synthesize(context.Background(), techProfile(),
		domain.PerformanceAnalysis{}, domain.MarketIntelligence{}, domain.InvestmentAdvice{})
	require.True(t, degraded)
	require.NotEmpty(t, s)
}

func TestDegradedSummary_TruncatesLongRawText(t *testing.T) {
	long := strings.Repeat("x", 600)
	got := degradedSummary(domain.Outcome{Kind: domain.OutcomeRawText, RawText: long}, "canned")
	require.Len(t, got, 503)
	require.True(t, strings.HasSuffix(got, "..."))
}
