// Package model defines the core domain types shared across the application.
package model

import "time"

// Pipeline identifies which side of a transaction a deal represents.
type Pipeline string

const (
	// PipelineBuyer is a deal where the client is purchasing.
	PipelineBuyer Pipeline = "buyer"
	// PipelineSeller is a deal where the client is selling.
	PipelineSeller Pipeline = "seller"
)

// IsValid reports whether the pipeline is a known value.
func (p Pipeline) IsValid() bool {
	return p == PipelineBuyer || p == PipelineSeller
}

// Stage is a deal's position in its pipeline. Stages are ordered; settled
// and nurture are terminal.
type Stage string

const (
	// StageLead is the initial stage for a new deal.
	StageLead Stage = "lead"
	// StageViewings covers active property viewings.
	StageViewings Stage = "viewings"
	// StageOfferMade means an offer has been presented.
	StageOfferMade Stage = "offer_made"
	// StageConditional means an offer was accepted subject to conditions.
	StageConditional Stage = "conditional"
	// StageUnconditional means all conditions are satisfied or waived.
	StageUnconditional Stage = "unconditional"
	// StageSettled is the terminal success stage.
	StageSettled Stage = "settled"
	// StageNurture parks a deal for long-term follow-up.
	StageNurture Stage = "nurture"
)

// stageOrder defines the forward progression of a pipeline. Nurture sits
// outside the ordering; any deal can be parked there.
var stageOrder = map[Stage]int{
	StageLead:          0,
	StageViewings:      1,
	StageOfferMade:     2,
	StageConditional:   3,
	StageUnconditional: 4,
	StageSettled:       5,
}

// String returns the stage as a string.
func (s Stage) String() string {
	return string(s)
}

// IsValid reports whether the stage is a known value.
func (s Stage) IsValid() bool {
	if s == StageNurture {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// IsTerminal reports whether the stage ends scanner attention for a deal.
func (s Stage) IsTerminal() bool {
	return s == StageSettled || s == StageNurture
}

// TerminalStages lists the stages excluded from deadline scanning.
func TerminalStages() []Stage {
	return []Stage{StageSettled, StageNurture}
}

// CanTransition reports whether a deal may move from one stage to another.
// Forward moves and parking in nurture are always permitted; backward moves
// and leaving a terminal stage require an explicit reopen.
func CanTransition(from, to Stage, reopen bool) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}
	if to == StageNurture {
		return true
	}
	if from == StageNurture || from.IsTerminal() {
		return reopen
	}
	if stageOrder[to] > stageOrder[from] {
		return true
	}
	return reopen
}

// RiskLevel grades how much attention a deal or thread needs.
type RiskLevel string

const (
	// RiskNone means nothing is flagged.
	RiskNone RiskLevel = "none"
	// RiskLow is a minor flag.
	RiskLow RiskLevel = "low"
	// RiskMedium needs attention soon.
	RiskMedium RiskLevel = "medium"
	// RiskHigh needs attention today.
	RiskHigh RiskLevel = "high"
	// RiskCritical means a deadline is missed or imminent. Deals only;
	// threads top out at high.
	RiskCritical RiskLevel = "critical"
)

// String returns the risk level as a string.
func (r RiskLevel) String() string {
	return string(r)
}

// IsValid reports whether the risk level is a known value.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Rank returns the sort weight of a risk level. Higher means riskier.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// ConditionType identifies a standard contract condition.
type ConditionType string

const (
	// ConditionFinance is finance approval.
	ConditionFinance ConditionType = "finance"
	// ConditionLIM is a Land Information Memorandum report.
	ConditionLIM ConditionType = "lim"
	// ConditionBuildingReport is a building inspection report.
	ConditionBuildingReport ConditionType = "building_report"
	// ConditionInsurance is insurance approval.
	ConditionInsurance ConditionType = "insurance"
	// ConditionSaleOfHome makes the deal contingent on the buyer's own sale.
	ConditionSaleOfHome ConditionType = "sale_of_home"
)

// ConditionStatus is the lifecycle state of a condition.
type ConditionStatus string

const (
	// ConditionPending means the condition still needs to be met.
	ConditionPending ConditionStatus = "pending"
	// ConditionSatisfied means the condition was met.
	ConditionSatisfied ConditionStatus = "satisfied"
	// ConditionWaived means the condition was dropped by agreement.
	ConditionWaived ConditionStatus = "waived"
)

// Condition is a dated requirement attached to a deal. Once its status
// leaves pending the scanner stops evaluating it.
type Condition struct {
	DueDate time.Time
	ID      string
	DealID  string
	Label   string
	Type    ConditionType
	Status  ConditionStatus
}

// Deal is one transaction pipeline instance owned by a user.
type Deal struct {
	StageEnteredAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SettlementDate *time.Time
	ID             string
	UserID         string
	Address        string
	Summary        string
	Pipeline       Pipeline
	Stage          Stage
	Risk           RiskLevel
	Conditions     []Condition
	Archived       bool
}

// PendingConditions returns the conditions the scanner still evaluates.
func (d *Deal) PendingConditions() []Condition {
	var pending []Condition
	for _, c := range d.Conditions {
		if c.Status == ConditionPending {
			pending = append(pending, c)
		}
	}
	return pending
}
