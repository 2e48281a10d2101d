// Package funnel turns user events into per-stage conversion metrics.
//
// A funnel is an ordered list of stages. Counter tallies distinct users per
// stage; Compute derives, for every observed stage in order:
//
//	previous_stage_users    unique users of the preceding observed stage
//	step_conversion_rate    unique_users / previous_stage_users * 100
//	drop_off_rate           100 - step_conversion_rate
//	overall_conversion_rate unique_users / first stage users * 100
//
// Rates are rounded to two decimals. Values that are undefined for the first
// stage (it has no predecessor) are reported as 0.
package funnel

import (
	"errors"
	"math"
)

// DefaultStages is the standard e-commerce journey.
var DefaultStages = []string{
	"landing_page",
	"product_page",
	"add_to_cart",
	"checkout_page",
	"purchase_success",
}

// ErrNoData is returned by Compute when no stage has any users.
var ErrNoData = errors.New("funnel: no events matched any stage")

// Event is one input record.
type Event struct {
	UserID string
	Stage  string
}

// StageCount is the number of distinct users seen at a stage.
type StageCount struct {
	Stage       string
	UniqueUsers int
}

// StageMetrics is one row of the funnel report.
type StageMetrics struct {
	Stage                 string  `json:"stage"`
	UniqueUsers           int     `json:"unique_users"`
	PreviousStageUsers    int     `json:"previous_stage_users"`
	StepConversionRate    float64 `json:"step_conversion_rate"`
	DropOffRate           float64 `json:"drop_off_rate"`
	OverallConversionRate float64 `json:"overall_conversion_rate"`
}

// Report is the computed funnel, one entry per observed stage in order.
type Report struct {
	Stages []StageMetrics `json:"stages"`
}

// Compute derives the funnel metrics from per-stage counts, which must be in
// funnel order. Stages with zero users are left out, so each stage is compared
// with the closest preceding stage that has users.
func Compute(counts []StageCount) (Report, error) {
	observed := make([]StageCount, 0, len(counts))
	for _, c := range counts {
		if c.UniqueUsers > 0 {
			observed = append(observed, c)
		}
	}
	if len(observed) == 0 {
		return Report{}, ErrNoData
	}

	start := float64(observed[0].UniqueUsers)
	out := make([]StageMetrics, len(observed))
	for i, c := range observed {
		m := StageMetrics{
			Stage:                 c.Stage,
			UniqueUsers:           c.UniqueUsers,
			OverallConversionRate: Round2(float64(c.UniqueUsers) / start * 100),
		}
		if i > 0 {
			prev := observed[i-1].UniqueUsers
			m.PreviousStageUsers = prev
			m.StepConversionRate = Round2(float64(c.UniqueUsers) / float64(prev) * 100)
			m.DropOffRate = 100 - m.StepConversionRate
		}
		out[i] = m
	}
	return Report{Stages: out}, nil
}

// Bottleneck returns the stage with the largest drop-off rate, ignoring the
// first stage. The earliest stage wins a tie. ok is false when the report has
// fewer than two stages.
func (r Report) Bottleneck() (worst StageMetrics, ok bool) {
	if len(r.Stages) < 2 {
		return StageMetrics{}, false
	}
	worst = r.Stages[1]
	for _, m := range r.Stages[2:] {
		if m.DropOffRate > worst.DropOffRate {
			worst = m
		}
	}
	return worst, true
}

// First returns the entry stage of the report.
func (r Report) First() (StageMetrics, bool) {
	if len(r.Stages) == 0 {
		return StageMetrics{}, false
	}
	return r.Stages[0], true
}

// Round2 rounds v to two decimals, halves to even on the scaled value.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.RoundToEven(v*100) / 100
}
