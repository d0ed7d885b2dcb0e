package tiercache

import (
	"context"
	"time"
)

type TierReport struct {
	Tier      Tier
	HitRate   float64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Bytes     int64 // sum of encoded entry sizes
	Capacity  int
	Usage     float64 // Entries/Capacity, 0 when unbounded
}

type Recommendation struct {
	Bottleneck string
	Tier       Tier
	Action     string
}

type PlanAction struct {
	Action   string
	Reason   string
	Critical bool
}

type OptimizationPlan struct {
	Actions  []PlanAction
	Critical bool
	ReviewAt time.Time
}

type PerformanceReport struct {
	GeneratedAt     time.Time
	Gets            uint64
	HitRate         float64
	Latency         LatencyStats
	Tiers           []TierReport
	MemoryBytes     int64
	Bottlenecks     []Bottleneck
	Recommendations []Recommendation
	Forecast        []TierForecast
	HealthScore     float64
	Plan            OptimizationPlan
}

// AnalyzePerformance evaluates the current metrics with the configured
// analysis policies.
func (e *Engine[V]) AnalyzePerformance(ctx context.Context) *PerformanceReport {
	return analyze(e.metricsSnapshot(ctx), e.policy)
}

func analyze(m MetricsSnapshot, p AnalysisPolicy) *PerformanceReport {
	r := &PerformanceReport{
		GeneratedAt: m.Taken,
		Gets:        m.Gets,
		HitRate:     m.HitRate,
		Latency:     m.Latency,
	}
	for _, tm := range m.Tiers {
		tr := TierReport{
			Tier:      tm.Tier,
			HitRate:   tm.HitRate,
			Hits:      tm.Hits,
			Misses:    tm.Misses,
			Evictions: tm.Evictions,
			Entries:   tm.Entries,
			Bytes:     tm.Bytes,
			Capacity:  tm.Capacity,
		}
		if tm.Capacity > 0 {
			tr.Usage = float64(tm.Entries) / float64(tm.Capacity)
		}
		r.MemoryBytes += tm.Bytes
		r.Tiers = append(r.Tiers, tr)
	}

	r.Bottlenecks = p.Bottlenecks.Detect(m)
	for _, b := range r.Bottlenecks {
		critical := b.Severity == SeverityHigh
		r.Recommendations = append(r.Recommendations, Recommendation{
			Bottleneck: b.Kind,
			Tier:       b.Tier,
			Action:     b.Recommendation,
		})
		r.Plan.Actions = append(r.Plan.Actions, PlanAction{
			Action:   b.Recommendation,
			Reason:   b.Detail,
			Critical: critical,
		})
		r.Plan.Critical = r.Plan.Critical || critical
	}
	r.Forecast = p.Forecast.Forecast(m)
	r.HealthScore = clamp01(p.Health.Score(m, r.Bottlenecks))

	review := p.ReviewAfter
	if r.Plan.Critical {
		review = p.CriticalReviewAfter
	}
	r.Plan.ReviewAt = m.Taken.Add(review)
	return r
}
