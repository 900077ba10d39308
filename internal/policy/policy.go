// Package policy implements the per-patient alert state machine. It converts
// a sequence of risk scores into discrete level transitions using debounce
// (consecutive qualifying scores) and hysteresis (a margin below the
// threshold for clearing).
//
// Evaluate is a pure function of (current state, incoming score, config);
// it performs no I/O and owns no state. The pipeline holds the AlertState
// and feeds scores through in strict per-patient timestamp order.
package policy

import (
	"breathguard/internal/types"
)

// lowConfidenceWeight is the escalation contribution of a low-confidence
// score. Uncertain data counts at half weight toward escalation and never
// counts toward de-escalation: the policy must not let uncertainty hasten a
// risk-reduction signal.
const lowConfidenceWeight = 0.5

// Evaluate applies one risk score to the state machine and returns the new
// state plus an AlertEvent when a level transition occurred (nil otherwise).
//
// Transitions move exactly one level at a time: NORMAL <-> WARNING <->
// CRITICAL. There is no CRITICAL -> NORMAL shortcut; de-escalation always
// passes through WARNING so oscillation cannot mask a still-elevated risk.
// Streak counters reset on every transition.
func Evaluate(state types.AlertState, score types.RiskScore, cfg types.PolicyConfig) (types.AlertState, *types.AlertEvent) {
	next := state
	next.LastSampleAt = score.Timestamp

	p := score.Probability

	// Escalation streak: consecutive scores at or above the threshold of
	// the next level up. Low-confidence scores contribute half weight; a
	// non-qualifying score breaks the streak.
	if up, ok := escalationThreshold(state.Level, cfg); ok {
		if p >= up {
			w := 1.0
			if score.LowConfidence {
				w = lowConfidenceWeight
			}
			next.HighStreak += w
		} else {
			next.HighStreak = 0
		}
	} else {
		next.HighStreak = 0
	}

	// Clearing streak: consecutive confident scores below the current
	// level's threshold minus the hysteresis margin. Low-confidence scores
	// never advance the streak and also interrupt it.
	if down, ok := clearingThreshold(state.Level, cfg); ok {
		switch {
		case score.LowConfidence:
			next.LowStreak = 0
		case p < down:
			next.LowStreak++
		default:
			next.LowStreak = 0
		}
	} else {
		next.LowStreak = 0
	}

	if next.HighStreak >= float64(cfg.EscalateCount) {
		return transition(next, state.Level.Above(), score), eventFor(state, state.Level.Above(), score)
	}
	if next.LowStreak >= cfg.ClearCount {
		return transition(next, state.Level.Below(), score), eventFor(state, state.Level.Below(), score)
	}

	return next, nil
}

// escalationThreshold returns the score threshold that qualifies toward the
// next level up, or ok=false when already at CRITICAL.
func escalationThreshold(level types.AlertLevel, cfg types.PolicyConfig) (float64, bool) {
	switch level {
	case types.LevelNormal:
		return cfg.WarnThreshold, true
	case types.LevelWarning:
		return cfg.CritThreshold, true
	default:
		return 0, false
	}
}

// clearingThreshold returns the score threshold that qualifies toward the
// next level down, or ok=false when already at NORMAL. The hysteresis margin
// is subtracted so values flapping at the boundary never clear.
func clearingThreshold(level types.AlertLevel, cfg types.PolicyConfig) (float64, bool) {
	switch level {
	case types.LevelWarning:
		return cfg.WarnThreshold - cfg.Hysteresis, true
	case types.LevelCritical:
		return cfg.CritThreshold - cfg.Hysteresis, true
	default:
		return 0, false
	}
}

func transition(state types.AlertState, to types.AlertLevel, score types.RiskScore) types.AlertState {
	state.Level = to
	state.HighStreak = 0
	state.LowStreak = 0
	state.LastTransitionAt = score.Timestamp
	return state
}

// eventFor builds the immutable transition record. The caller assigns the
// event ID before persisting; the policy itself stays free of identity
// generation so it remains a pure function.
func eventFor(prev types.AlertState, to types.AlertLevel, score types.RiskScore) *types.AlertEvent {
	return &types.AlertEvent{
		PatientID: prev.PatientID,
		Timestamp: score.Timestamp,
		FromLevel: prev.Level,
		ToLevel:   to,
		Score:     score.Probability,
	}
}
