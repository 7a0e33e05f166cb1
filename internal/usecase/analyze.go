package usecase

import (
	"encoding/json"
	"log/slog"
	"strings"
	"text/template"

	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// promptTokenWarnThreshold flags prompts likely to crowd the model's output
// budget.
const promptTokenWarnThreshold = 6000

// Analyzer turns a profile plus data snapshot into the typed analysis
// records via templated LLM prompts. Dispatch failures degrade to canned
// records instead of failing the report.
type Analyzer struct {
	Engine domain.AnalysisEngine
	Model  string
}

func NewAnalyzer(engine domain.AnalysisEngine, model string) Analyzer {
	return Analyzer{Engine: engine, Model: model}
}

type promptData struct {
	Profile  string
	Snapshot string
	Analyses string
}

var (
	performanceTmpl = template.Must(template.New("performance").Parse(`You are a business analyst. Assess the business below against current economic conditions.

Business profile:
{{.Profile}}

Economic data snapshot:
{{.Snapshot}}

Respond with ONLY a JSON object, no prose, with exactly these fields:
{"summary": string, "growth_outlook": string, "revenue_drivers": [string], "risk_factors": [string], "score": number between 0 and 10}`))

	marketTmpl = template.Must(template.New("market").Parse(`You are a market intelligence analyst. Evaluate the market position for the business below.

Business profile:
{{.Profile}}

Economic data snapshot:
{{.Snapshot}}

Respond with ONLY a JSON object, no prose, with exactly these fields:
{"summary": string, "sector_trend": string, "competitive_notes": [string], "opportunities": [string]}`))

	investmentTmpl = template.Must(template.New("investment").Parse(`You are an investment advisor. Recommend capital allocation priorities for the business below.

Business profile:
{{.Profile}}

Economic data snapshot:
{{.Snapshot}}

Respond with ONLY a JSON object, no prose, with exactly these fields:
{"summary": string, "recommendations": [string], "risk_level": "low"|"medium"|"high", "time_horizon": string}`))

	synthesisTmpl = template.Must(template.New("synthesis").Parse(`You are writing the executive summary of a business intelligence report.

Business profile:
{{.Profile}}

Completed analyses:
{{.Analyses}}

Respond with ONLY a JSON object: {"synthesis": string}. The synthesis should be 2-4 paragraphs weaving the analyses into one narrative.`))
)

func (a Analyzer) render(tmpl *template.Template, data promptData) string {
	var b strings.Builder
	// Templates only reference fields that exist; an execution error would be
	// a programming bug, so fall back to the raw data rather than panicking.
	if err := tmpl.Execute(&b, data); err != nil {
		slog.Error("prompt template execution failed",
			slog.String("template", tmpl.Name()),
			slog.Any("error", err))
		return data.Profile + "\n" + data.Snapshot
	}
	prompt := b.String()
	if n := tokencount.EstimatePromptTokensDefault(prompt, a.Model); n > promptTokenWarnThreshold {
		slog.Warn("oversized analysis prompt",
			slog.String("template", tmpl.Name()),
			slog.Int("estimated_tokens", n))
	}
	return prompt
}

func marshalForPrompt(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// decodeRecord converts a JSON outcome into a typed record. Returns false
// when the payload does not fit the schema.
func decodeRecord(out domain.Outcome, v any) bool {
	if out.Kind != domain.OutcomeJSON {
		return false
	}
	b, err := json.Marshal(out.JSON)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

// Performance runs the business-performance analysis.
func (a Analyzer) Performance(ctx domain.Context, profile domain.BusinessProfile, snap domain.EconomicSnapshot) domain.PerformanceAnalysis {
	prompt := a.render(performanceTmpl, promptData{
		Profile:  marshalForPrompt(profile),
		Snapshot: marshalForPrompt(snap),
	})
	out := a.Engine.Generate(ctx, domain.TaskBusinessPerformance, prompt)

	var rec domain.PerformanceAnalysis
	if decodeRecord(out, &rec) && rec.Summary != "" {
		return rec
	}
	a.logDegraded(domain.TaskBusinessPerformance, out)
	return domain.PerformanceAnalysis{
		Summary:       degradedSummary(out, "Performance analysis unavailable; assessment based on submitted profile only."),
		GrowthOutlook: "unknown",
		Score:         -1,
		Degraded:      true,
	}
}

// MarketIntel runs the market intelligence analysis.
func (a Analyzer) MarketIntel(ctx domain.Context, profile domain.BusinessProfile, snap domain.EconomicSnapshot) domain.MarketIntelligence {
	prompt := a.render(marketTmpl, promptData{
		Profile:  marshalForPrompt(profile),
		Snapshot: marshalForPrompt(snap),
	})
	out := a.Engine.Generate(ctx, domain.TaskMarketIntelligence, prompt)

	var rec domain.MarketIntelligence
	if decodeRecord(out, &rec) && rec.Summary != "" {
		return rec
	}
	a.logDegraded(domain.TaskMarketIntelligence, out)
	return domain.MarketIntelligence{
		Summary:     degradedSummary(out, "Market intelligence unavailable for this report."),
		SectorTrend: "unknown",
		Degraded:    true,
	}
}

// Investment runs the investment analysis.
func (a Analyzer) Investment(ctx domain.Context, profile domain.BusinessProfile, snap domain.EconomicSnapshot) domain.InvestmentAdvice {
	prompt := a.render(investmentTmpl, promptData{
		Profile:  marshalForPrompt(profile),
		Snapshot: marshalForPrompt(snap),
	})
	out := a.Engine.Generate(ctx, domain.TaskInvestmentAnalysis, prompt)

	var rec domain.InvestmentAdvice
	if decodeRecord(out, &rec) && rec.Summary != "" {
		return rec
	}
	a.logDegraded(domain.TaskInvestmentAnalysis, out)
	return domain.InvestmentAdvice{
		Summary:   degradedSummary(out, "Investment analysis unavailable for this report."),
		RiskLevel: "unknown",
		Degraded:  true,
	}
}

// Synthesize writes the executive summary over the three analyses. The
// second return reports degradation.
func (a Analyzer) Synthesize(ctx domain.Context, profile domain.BusinessProfile, perf domain.PerformanceAnalysis, market domain.MarketIntelligence, invest domain.InvestmentAdvice) (string, bool) {
	analyses := map[string]any{
		"performance": perf,
		"market":      market,
		"investment":  invest,
	}
	prompt := a.render(synthesisTmpl, promptData{
		Profile:  marshalForPrompt(profile),
		Analyses: marshalForPrompt(analyses),
	})
	out := a.Engine.Generate(ctx, domain.TaskSynthesisReporting, prompt)

	switch out.Kind {
	case domain.OutcomeJSON:
		if s, ok := out.JSON["synthesis"].(string); ok && s != "" {
			return s, false
		}
	case domain.OutcomeRawText:
		// Synthesis is prose anyway; unparseable output is still usable.
		if s := strings.TrimSpace(out.RawText); s != "" {
			return s, false
		}
	}
	a.logDegraded(domain.TaskSynthesisReporting, out)
	return "Executive summary unavailable. See the individual analysis sections.", true
}

func (a Analyzer) logDegraded(task domain.TaskType, out domain.Outcome) {
	attrs := []any{
		slog.String("task", string(task)),
		slog.Int("outcome_kind", int(out.Kind)),
	}
	if out.Failure != nil {
		attrs = append(attrs,
			slog.String("failure_kind", out.Failure.Kind),
			slog.Bool("fallback_attempted", out.Failure.FallbackAttempted))
	}
	slog.Warn("analysis degraded", attrs...)
}

// degradedSummary prefers salvaging raw model text over a canned sentence.
func degradedSummary(out domain.Outcome, canned string) string {
	if out.Kind == domain.OutcomeRawText {
		s := strings.TrimSpace(out.RawText)
		if len(s) > 500 {
			s = s[:500] + "..."
		}
		if s != "" {
			return s
		}
	}
	return canned
}
