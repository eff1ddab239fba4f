// Package types provides shared type definitions used across econoclass packages.
// This package exists to break import cycles between store, gateway, and stages.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Family is the top-level classification bucket an indicator belongs to.
type Family string

const (
	FamilyPhysicalFundamental Family = "physical-fundamental"
	FamilyNumericMeasurement  Family = "numeric-measurement"
	FamilyPriceValue          Family = "price-value"
	FamilyChangeMovement      Family = "change-movement"
	FamilyCompositeDerived    Family = "composite-derived"
	FamilyTemporal            Family = "temporal"
	FamilyQualitative         Family = "qualitative"
)

// Families lists every valid family in declaration order.
var Families = []Family{
	FamilyPhysicalFundamental,
	FamilyNumericMeasurement,
	FamilyPriceValue,
	FamilyChangeMovement,
	FamilyCompositeDerived,
	FamilyTemporal,
	FamilyQualitative,
}

// Valid reports whether f is one of the seven known families.
func (f Family) Valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// TemporalAggregation describes how an indicator's values accumulate over time.
type TemporalAggregation string

const (
	TemporalPointInTime      TemporalAggregation = "point-in-time"
	TemporalPeriodRate       TemporalAggregation = "period-rate"
	TemporalPeriodCumulative TemporalAggregation = "period-cumulative"
	TemporalPeriodAverage    TemporalAggregation = "period-average"
	TemporalPeriodTotal      TemporalAggregation = "period-total"
	TemporalNotApplicable    TemporalAggregation = "not-applicable"
)

// TemporalAggregations lists every valid temporal aggregation.
var TemporalAggregations = []TemporalAggregation{
	TemporalPointInTime,
	TemporalPeriodRate,
	TemporalPeriodCumulative,
	TemporalPeriodAverage,
	TemporalPeriodTotal,
	TemporalNotApplicable,
}

// Valid reports whether t is a known temporal aggregation.
func (t TemporalAggregation) Valid() bool {
	for _, known := range TemporalAggregations {
		if t == known {
			return true
		}
	}
	return false
}

// Orientation is the heat-map orientation of an indicator.
type Orientation string

const (
	OrientationHigherIsPositive Orientation = "higher-is-positive"
	OrientationLowerIsPositive  Orientation = "lower-is-positive"
	OrientationNeutral          Orientation = "neutral"
)

// Orientations lists every valid heat-map orientation.
var Orientations = []Orientation{
	OrientationHigherIsPositive,
	OrientationLowerIsPositive,
	OrientationNeutral,
}

// Valid reports whether o is a known orientation.
func (o Orientation) Valid() bool {
	for _, known := range Orientations {
		if o == known {
			return true
		}
	}
	return false
}

// Severity grades a flag.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarn || s == SeverityBlock
}

// AtLeastWarn reports whether the severity is warn or block.
func (s Severity) AtLeastWarn() bool {
	return s == SeverityWarn || s == SeverityBlock
}

// ReviewAction is the decision taken by the Review stage.
type ReviewAction string

const (
	ReviewAccept   ReviewAction = "accept"
	ReviewFix      ReviewAction = "fix"
	ReviewEscalate ReviewAction = "escalate"
)

// Valid reports whether a is a known review action.
func (a ReviewAction) Valid() bool {
	return a == ReviewAccept || a == ReviewFix || a == ReviewEscalate
}

// FlagType identifies the rule that produced a flag.
type FlagType string

const (
	FlagMissingField             FlagType = "missing-field"
	FlagConfidenceBelowThreshold FlagType = "confidence-below-threshold"
	FlagTypeFamilyMismatch       FlagType = "type-family-mismatch"
	FlagTemporalRuleViolation    FlagType = "temporal-rule-violation"
	FlagValidationTemporal       FlagType = "validation-suggests-different-temporal"
	FlagOrientationConflict      FlagType = "orientation-conflicts-with-override"
	FlagRouterFailure            FlagType = "router-failure"
	FlagSpecialistFailure        FlagType = "specialist-failure"
	FlagOrientationFailure       FlagType = "orientation-failure"
	FlagMagnitudeSuspicious      FlagType = "magnitude-suspicious"
)

// =============================================================================
// SOURCE RECORDS
// =============================================================================

// SamplePoint is a single observation in an indicator's time series.
// Date is either an ISO date (2006-01-02) or a symbolic token such as
// "last10YearsAvg"; symbolic tokens are summary statistics, not observations.
type SamplePoint struct {
	Date  string  `json:"date" yaml:"date"`
	Value float64 `json:"value" yaml:"value"`
}

// Indicator is the input record: a named economic measurement plus
// descriptive attributes. Immutable during a pipeline run.
type Indicator struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name" yaml:"name"`
	Units             string        `json:"units,omitempty" yaml:"units,omitempty"`
	Periodicity       string        `json:"periodicity,omitempty" yaml:"periodicity,omitempty"`
	CategoryGroup     string        `json:"category_group,omitempty" yaml:"category_group,omitempty"`
	Topic             string        `json:"topic,omitempty" yaml:"topic,omitempty"`
	AggregationMethod string        `json:"aggregation_method,omitempty" yaml:"aggregation_method,omitempty"`
	Scale             string        `json:"scale,omitempty" yaml:"scale,omitempty"`
	CurrencyCode      string        `json:"currency_code,omitempty" yaml:"currency_code,omitempty"`
	Dataset           string        `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Description       string        `json:"description,omitempty" yaml:"description,omitempty"`
	SampleValues      []SamplePoint `json:"sample_values,omitempty" yaml:"sample_values,omitempty"`
}

// =============================================================================
// STAGE RESULT ROWS
// =============================================================================

// RouterResult is the Router stage output: one row per indicator per execution.
type RouterResult struct {
	IndicatorID      string    `json:"indicator_id"`
	Family           Family    `json:"family"`
	ConfidenceFamily float64   `json:"confidence_family"`
	Reasoning        string    `json:"reasoning,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SpecialistResult is the family-specific classification of an indicator.
type SpecialistResult struct {
	IndicatorID           string              `json:"indicator_id"`
	Family                Family              `json:"family"`
	IndicatorType         string              `json:"indicator_type"`
	IndicatorCategory     string              `json:"indicator_category,omitempty"`
	TemporalAggregation   TemporalAggregation `json:"temporal_aggregation"`
	IsCurrencyDenominated bool                `json:"is_currency_denominated"`
	ConfidenceCls         float64             `json:"confidence_cls"`
	Reasoning             string              `json:"reasoning,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

// ValidationResult holds deterministic time-series evidence. Produced
// locally from sample_values alone, never by an LLM.
type ValidationResult struct {
	IndicatorID          string              `json:"indicator_id"`
	IsCumulative         bool                `json:"is_cumulative"`
	CumulativeConfidence float64             `json:"cumulative_confidence"`
	SuggestedTemporal    TemporalAggregation `json:"suggested_temporal,omitempty"`
	ValidationReasoning  string              `json:"validation_reasoning,omitempty"`
	MagnitudeSuspicious  bool                `json:"magnitude_suspicious"`
	Analyzed             bool                `json:"analyzed"`
}

// OrientationResult is the heat-map orientation assigned to an indicator.
type OrientationResult struct {
	IndicatorID      string      `json:"indicator_id"`
	Orientation      Orientation `json:"heat_map_orientation"`
	ConfidenceOrient float64     `json:"confidence_orient"`
	Reasoning        string      `json:"reasoning,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// FlaggedIndicator is a structured note attached to a candidate
// classification by the rule engine.
type FlaggedIndicator struct {
	IndicatorID   string   `json:"indicator_id"`
	FlagType      FlagType `json:"flag_type"`
	FlagReason    string   `json:"flag_reason"`
	CurrentValue  string   `json:"current_value,omitempty"`
	ExpectedValue string   `json:"expected_value,omitempty"`
	Severity      Severity `json:"severity"`
}

// ReviewDecision is the second-pass decision on a flagged indicator.
type ReviewDecision struct {
	IndicatorID string       `json:"indicator_id"`
	Action      ReviewAction `json:"action"`
	TargetField string       `json:"target_field,omitempty"`
	OldValue    string       `json:"old_value,omitempty"`
	NewValue    string       `json:"new_value,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Confidence  float64      `json:"confidence"`
}

// Classification is the final merged row for an indicator: the union of
// Router, Specialist and Orientation fields, optionally overwritten by
// Review fix actions.
type Classification struct {
	IndicatorID           string              `json:"indicator_id"`
	Name                  string              `json:"name"`
	Family                Family              `json:"family"`
	IndicatorType         string              `json:"indicator_type"`
	IndicatorCategory     string              `json:"indicator_category,omitempty"`
	TemporalAggregation   TemporalAggregation `json:"temporal_aggregation"`
	IsCurrencyDenominated bool                `json:"is_currency_denominated"`
	Orientation           Orientation         `json:"heat_map_orientation"`
	ConfidenceFamily      float64             `json:"confidence_family"`
	ConfidenceCls         float64             `json:"confidence_cls"`
	ConfidenceOrient      float64             `json:"confidence_orient"`
	ReviewedBy            string              `json:"reviewed_by,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

// StageCounts summarizes one stage's outcome for telemetry.
type StageCounts struct {
	Processed  int   `json:"processed"`
	Successful int   `json:"successful"`
	Failed     int   `json:"failed"`
	Flagged    int   `json:"flagged,omitempty"`
	Reviewed   int   `json:"reviewed,omitempty"`
	Fixed      int   `json:"fixed,omitempty"`
	Escalated  int   `json:"escalated,omitempty"`
	ElapsedMs  int64 `json:"elapsed_ms"`
}

// PipelineExecution is the telemetry row written by the driver at the end
// of a run.
type PipelineExecution struct {
	ExecutionID  string                 `json:"execution_id"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
	StageCounts  map[string]StageCounts `json:"stage_counts"`
	APICalls     int64                  `json:"api_calls"`
	TokensIn     int64                  `json:"tokens_in"`
	TokensOut    int64                  `json:"tokens_out"`
	CostEstimate float64                `json:"cost_estimate"`
}

// FailedIndicator surfaces an indicator that exhausted its retry budget.
type FailedIndicator struct {
	Indicator Indicator
	Err       error
	Retries   int
}

func (f FailedIndicator) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("indicator %s failed", f.Indicator.ID)
	}
	return fmt.Sprintf("indicator %s failed after %d retries: %v", f.Indicator.ID, f.Retries, f.Err)
}

func (f FailedIndicator) Unwrap() error { return f.Err }
