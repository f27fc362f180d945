package effect

import (
	"regexp"

	"go.uber.org/zap"
)

// DeliveryPlan is the engine's output for one message-processing operation.
type DeliveryPlan struct {
	// TargetMessages maps each eligible target's agent id to the text it
	// should receive. A target absent from the map must not be contacted.
	TargetMessages map[string]string
	// Effects is the full informational status snapshot observed while
	// computing the plan, including expired and unrecognised effects.
	Effects []StatusEffect
	// CurrentTimestamp is the logical timestamp every expiry comparison
	// was made against.
	CurrentTimestamp int64
}

// Target pairs an agent id with its effect-identity address for plan
// computation.
type Target struct {
	AgentID string
	Address string
}

// BuildPlan computes the per-target delivery plan for one agent message.
// The transformation order is a fixed contract:
//
//  1. An active Silence on the sender empties the plan outright.
//  2. Otherwise every target starts with an independent copy of text.
//  3. An active Deafen on a target removes that target only.
//  4. An active Poison on the sender rewrites every remaining copy.
//  5. An active Poison on a target rewrites that target's own copy,
//     compounding after the sender's pass.
//
// Expired effects never mutate anything but still appear in plan.Effects.
// An invalid poison pattern is logged and skipped so one bad effect cannot
// block a round. The engine performs no I/O.
//
// Precondition: snap must be keyed by effect-identity address; logger must be non-nil.
// Postcondition: Keys of plan.TargetMessages are a subset of the target agent ids.
func BuildPlan(text string, senderAddr string, targets []Target, snap Snapshot, now int64, logger *zap.Logger) DeliveryPlan {
	targetAddrs := make([]string, 0, len(targets))
	for _, t := range targets {
		targetAddrs = append(targetAddrs, t.Address)
	}

	plan := DeliveryPlan{
		TargetMessages:   make(map[string]string, len(targets)),
		Effects:          snap.Flatten(senderAddr, targetAddrs),
		CurrentTimestamp: now,
	}

	// Sender silence short-circuits everything else.
	if hasActive(snap[senderAddr], KindSilence, now) {
		return plan
	}

	for _, t := range targets {
		plan.TargetMessages[t.AgentID] = text
	}

	for _, t := range targets {
		if hasActive(snap[t.Address], KindDeafen, now) {
			delete(plan.TargetMessages, t.AgentID)
		}
	}

	if p := activePoison(snap[senderAddr], now); p != nil {
		for id, msg := range plan.TargetMessages {
			plan.TargetMessages[id] = applyPoison(msg, p, logger)
		}
	}

	for _, t := range targets {
		msg, ok := plan.TargetMessages[t.AgentID]
		if !ok {
			continue
		}
		if p := activePoison(snap[t.Address], now); p != nil {
			plan.TargetMessages[t.AgentID] = applyPoison(msg, p, logger)
		}
	}

	return plan
}

func hasActive(effects []StatusEffect, kind Kind, now int64) bool {
	for _, e := range effects {
		if e.Kind == kind && e.ActiveAt(now) {
			return true
		}
	}
	return false
}

func activePoison(effects []StatusEffect, now int64) *PoisonParams {
	for _, e := range effects {
		if e.Kind == KindPoison && e.ActiveAt(now) && e.Poison != nil {
			return e.Poison
		}
	}
	return nil
}

// applyPoison performs the global find/replace. The pattern is used as
// supplied; callers quoting literals are responsible for escaping. A pattern
// that fails to compile is skipped, not fatal.
func applyPoison(text string, p *PoisonParams, logger *zap.Logger) string {
	pattern := p.Find
	if !p.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Warn("skipping poison effect with invalid pattern",
			zap.String("find", p.Find),
			zap.Error(err),
		)
		return text
	}
	return re.ReplaceAllString(text, p.Replace)
}
