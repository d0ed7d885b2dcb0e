package tiercache

import (
	"fmt"
	"math"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Bottleneck kinds reported by ThresholdBottlenecks.
const (
	BottleneckLowHitRate = "low_hit_rate"
	BottleneckL1Pressure = "l1_memory_pressure"
)

type Bottleneck struct {
	Kind           string
	Tier           Tier // 0 for engine-wide findings
	Severity       Severity
	Value          float64
	Threshold      float64
	Detail         string
	Recommendation string
}

// The analyzer is assembled from these; replace any of them through
// Options.Analysis.
type (
	BottleneckPolicy interface {
		Detect(m MetricsSnapshot) []Bottleneck
	}
	ForecastPolicy interface {
		Forecast(m MetricsSnapshot) []TierForecast
	}
	HealthPolicy interface {
		Score(m MetricsSnapshot, found []Bottleneck) float64
	}
	EffectPolicy interface {
		Estimate(before MetricsSnapshot, r *WarmupReport) EffectEstimate
	}
)

type AnalysisPolicy struct {
	Bottlenecks BottleneckPolicy // nil => ThresholdBottlenecks{}
	Forecast    ForecastPolicy   // nil => LinearForecast{}
	Health      HealthPolicy     // nil => WeightedHealth{}
	Effect      EffectPolicy     // nil => CoverageEffect{}

	ReviewAfter         time.Duration // 0 => 24h
	CriticalReviewAfter time.Duration // 0 => 1h
}

func (p AnalysisPolicy) withDefaults() AnalysisPolicy {
	p.Bottlenecks = coalesce[BottleneckPolicy](p.Bottlenecks, ThresholdBottlenecks{})
	p.Forecast = coalesce[ForecastPolicy](p.Forecast, LinearForecast{})
	p.Health = coalesce[HealthPolicy](p.Health, WeightedHealth{})
	p.Effect = coalesce[EffectPolicy](p.Effect, CoverageEffect{})
	p.ReviewAfter = positive(p.ReviewAfter, 24*time.Hour)
	p.CriticalReviewAfter = positive(p.CriticalReviewAfter, time.Hour)
	return p
}

// ThresholdBottlenecks flags a low overall hit rate (high severity) and a
// nearly full L1 (medium severity). Zero fields take the defaults.
type ThresholdBottlenecks struct {
	MinHitRate float64 // 0 => 0.7
	MaxL1Usage float64 // 0 => 0.9
}

func (p ThresholdBottlenecks) Detect(m MetricsSnapshot) []Bottleneck {
	minHit := positive(p.MinHitRate, 0.7)
	maxUsage := positive(p.MaxL1Usage, 0.9)

	var out []Bottleneck
	// no traffic is not a low hit rate
	if m.Gets > 0 && m.HitRate < minHit {
		out = append(out, Bottleneck{
			Kind:           BottleneckLowHitRate,
			Severity:       SeverityHigh,
			Value:          m.HitRate,
			Threshold:      minHit,
			Detail:         fmt.Sprintf("hit rate %.2f below %.2f", m.HitRate, minHit),
			Recommendation: "increase tier sizes or entry TTLs; warm up frequently missed keys",
		})
	}
	if l1 := m.Tier(L1); l1.Capacity > 0 {
		usage := float64(l1.Entries) / float64(l1.Capacity)
		if usage > maxUsage {
			out = append(out, Bottleneck{
				Kind:           BottleneckL1Pressure,
				Tier:           L1,
				Severity:       SeverityMedium,
				Value:          usage,
				Threshold:      maxUsage,
				Detail:         fmt.Sprintf("L1 holds %d of %d entries", l1.Entries, l1.Capacity),
				Recommendation: "tighten L1 eviction (larger evict fraction, shorter TTLs) or raise L1 capacity",
			})
		}
	}
	return out
}

type ForecastPoint struct {
	Months  int
	Entries int
	Bytes   int64
	Usage   float64 // 0 for unbounded tiers
}

type TierForecast struct {
	Tier     Tier
	Entries  int
	Bytes    int64
	Capacity int
	Points   []ForecastPoint
	// MonthsUntilFull is 0 when the tier is already full and -1 when it
	// never fills under the model (unbounded, empty or no growth).
	MonthsUntilFull int
}

// LinearForecast grows current occupancy by a fixed fraction per month.
type LinearForecast struct {
	MonthlyGrowth float64 // 0 => 0.10
	Horizons      []int   // months; nil => 1, 3, 6, 12
}

var defaultHorizons = []int{1, 3, 6, 12}

func (p LinearForecast) Forecast(m MetricsSnapshot) []TierForecast {
	g := positive(p.MonthlyGrowth, 0.10)
	horizons := p.Horizons
	if len(horizons) == 0 {
		horizons = defaultHorizons
	}
	out := make([]TierForecast, 0, len(m.Tiers))
	for _, tm := range m.Tiers {
		f := TierForecast{
			Tier:            tm.Tier,
			Entries:         tm.Entries,
			Bytes:           tm.Bytes,
			Capacity:        tm.Capacity,
			MonthsUntilFull: monthsUntilFull(tm.Entries, tm.Capacity, g),
		}
		for _, h := range horizons {
			k := 1 + g*float64(h)
			pt := ForecastPoint{
				Months:  h,
				Entries: int(math.Round(float64(tm.Entries) * k)),
				Bytes:   int64(math.Round(float64(tm.Bytes) * k)),
			}
			if tm.Capacity > 0 {
				pt.Usage = float64(pt.Entries) / float64(tm.Capacity)
			}
			f.Points = append(f.Points, pt)
		}
		out = append(out, f)
	}
	return out
}

func monthsUntilFull(entries, capacity int, g float64) int {
	switch {
	case capacity <= 0 || g <= 0:
		return -1
	case entries >= capacity:
		return 0
	case entries == 0:
		return -1
	}
	return int(math.Ceil((float64(capacity)/float64(entries) - 1) / g))
}

// WeightedHealth blends hit rate, a latency score and a bottleneck penalty
// into [0,1]. Zero fields take the defaults.
type WeightedHealth struct {
	HitWeight      float64       // 0 => 0.5
	LatencyWeight  float64       // 0 => 0.3
	SeverityWeight float64       // 0 => 0.2
	LatencyTarget  time.Duration // avg latency that scores 0.5; 0 => 1ms
}

func (p WeightedHealth) Score(m MetricsSnapshot, found []Bottleneck) float64 {
	wh := positive(p.HitWeight, 0.5)
	wl := positive(p.LatencyWeight, 0.3)
	ws := positive(p.SeverityWeight, 0.2)
	target := positive(p.LatencyTarget, time.Millisecond)

	latScore := 1.0
	if m.Latency.Samples > 0 {
		latScore = 1 / (1 + float64(m.Latency.Avg)/float64(target))
	}
	penalty := 0.0
	for _, b := range found {
		penalty += severityPenalty(b.Severity)
	}
	penalty = math.Min(penalty, 1)

	return clamp01(wh*m.HitRate + wl*latScore + ws*(1-penalty))
}

func severityPenalty(s Severity) float64 {
	switch s {
	case SeverityHigh:
		return 0.5
	case SeverityMedium:
		return 0.25
	case SeverityLow:
		return 0.1
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

type EffectEstimate struct {
	HitRateBefore float64
	HitRateAfter  float64
	LatencyBefore time.Duration
	LatencyAfter  time.Duration
	// CostDelta is the change in the share of gets that reach the backing
	// source; negative means fewer.
	CostDelta float64
}

// CoverageEffect assumes warmed keys absorb a fraction of the misses seen so
// far, in proportion to how many misses the warmed key count could cover.
type CoverageEffect struct {
	Absorb float64 // 0 => 0.5
}

func (p CoverageEffect) Estimate(before MetricsSnapshot, r *WarmupReport) EffectEstimate {
	est := EffectEstimate{
		HitRateBefore: before.HitRate,
		HitRateAfter:  before.HitRate,
		LatencyBefore: before.Latency.Avg,
		LatencyAfter:  before.Latency.Avg,
	}
	if r == nil || r.Loaded == 0 || before.HitRate >= 1 {
		return est
	}
	coverage := 1.0
	if before.Misses > 0 {
		coverage = math.Min(1, float64(r.Loaded)/float64(before.Misses))
	}
	h0 := before.HitRate
	h1 := clamp01(h0 + (1-h0)*coverage*positive(p.Absorb, 0.5))
	est.HitRateAfter = h1
	est.LatencyAfter = time.Duration(float64(est.LatencyBefore) * (1 - h1) / (1 - h0))
	est.CostDelta = h0 - h1
	return est
}
