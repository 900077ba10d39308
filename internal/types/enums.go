package types

// AlertLevel represents the per-patient alert state machine level.
type AlertLevel string

const (
	LevelNormal   AlertLevel = "NORMAL"
	LevelWarning  AlertLevel = "WARNING"
	LevelCritical AlertLevel = "CRITICAL"
)

// Rank returns the ordinal position of the level for step-wise transitions.
// NORMAL=0, WARNING=1, CRITICAL=2. Unknown levels rank as NORMAL.
func (l AlertLevel) Rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	default:
		return 0
	}
}

// levelByRank is the inverse of Rank, used for one-step transitions.
var levelByRank = [...]AlertLevel{LevelNormal, LevelWarning, LevelCritical}

// Above returns the next level up, or CRITICAL if already at the top.
func (l AlertLevel) Above() AlertLevel {
	r := l.Rank()
	if r >= len(levelByRank)-1 {
		return LevelCritical
	}
	return levelByRank[r+1]
}

// Below returns the next level down, or NORMAL if already at the bottom.
func (l AlertLevel) Below() AlertLevel {
	r := l.Rank()
	if r <= 0 {
		return LevelNormal
	}
	return levelByRank[r-1]
}

// ChannelType identifies a physical or notification dispatch channel.
type ChannelType string

const (
	ChannelBuzzer ChannelType = "buzzer"
	ChannelSMS    ChannelType = "sms"
)

// OutcomeStatus represents the lifecycle state of a dispatch outcome.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeRetrying  OutcomeStatus = "retrying"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Terminal reports whether the status is final. A terminal outcome is frozen
// and must never transition again.
func (s OutcomeStatus) Terminal() bool {
	return s == OutcomeSucceeded || s == OutcomeFailed || s == OutcomeSkipped
}

// RiskLabel is the coarse classification of a risk probability, kept for
// dashboard display compatibility.
type RiskLabel string

const (
	RiskLow    RiskLabel = "LOW"
	RiskMedium RiskLabel = "MEDIUM"
	RiskHigh   RiskLabel = "HIGH"
)

// LabelForProbability maps a probability to its display label.
// Boundaries: LOW < 0.35 <= MEDIUM < 0.65 <= HIGH.
func LabelForProbability(p float64) RiskLabel {
	switch {
	case p < 0.35:
		return RiskLow
	case p < 0.65:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// SmokerClass classifies a patient's smoke exposure.
type SmokerClass string

const (
	SmokerNone    SmokerClass = "non_smoker"
	SmokerPassive SmokerClass = "passive_smoker"
	SmokerActive  SmokerClass = "active_smoker"
)

// Code returns the numeric encoding the risk model was trained on.
func (s SmokerClass) Code() float64 {
	switch s {
	case SmokerPassive:
		return 1
	case SmokerActive:
		return 2
	default:
		return 0
	}
}

// AllergyClass classifies a patient's primary allergy trigger.
type AllergyClass string

const (
	AllergyNone   AllergyClass = "none"
	AllergyDust   AllergyClass = "dust"
	AllergyPollen AllergyClass = "pollen"
	AllergyPets   AllergyClass = "pets"
	AllergyOther  AllergyClass = "other"
)

// Code returns the numeric encoding the risk model was trained on.
func (a AllergyClass) Code() float64 {
	switch a {
	case AllergyDust:
		return 1
	case AllergyPollen:
		return 2
	case AllergyPets:
		return 3
	case AllergyOther:
		return 4
	default:
		return 0
	}
}

// OccupationClass classifies a patient's occupational exposure risk.
type OccupationClass string

const (
	OccupationIndoor  OccupationClass = "home_office"
	OccupationOutdoor OccupationClass = "outdoor_traffic"
	OccupationHeavy   OccupationClass = "factory_heavy"
)

// Code returns the numeric encoding the risk model was trained on.
func (o OccupationClass) Code() float64 {
	switch o {
	case OccupationOutdoor:
		return 1
	case OccupationHeavy:
		return 2
	default:
		return 0
	}
}
