package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

const now = int64(1000)

var (
	sender  = "0xsender"
	targetA = Target{AgentID: "agent-a", Address: "0xaaa"}
	targetB = Target{AgentID: "agent-b", Address: "0xbbb"}
)

func silence(target string, expires int64) StatusEffect {
	return StatusEffect{Kind: KindSilence, Target: target, Instigator: "0xrival", ExpiresAt: expires}
}

func deafen(target string, expires int64) StatusEffect {
	return StatusEffect{Kind: KindDeafen, Target: target, Instigator: "0xrival", ExpiresAt: expires}
}

func poison(target string, expires int64, find, replace string, caseSensitive bool) StatusEffect {
	return StatusEffect{
		Kind:       KindPoison,
		Target:     target,
		Instigator: "0xrival",
		ExpiresAt:  expires,
		Poison:     &PoisonParams{Find: find, Replace: replace, CaseSensitive: caseSensitive},
	}
}

func TestBuildPlan_NoEffects(t *testing.T) {
	plan := BuildPlan("hello round", sender, []Target{targetA, targetB}, Snapshot{}, now, zap.NewNop())

	require.Len(t, plan.TargetMessages, 2)
	assert.Equal(t, "hello round", plan.TargetMessages["agent-a"])
	assert.Equal(t, "hello round", plan.TargetMessages["agent-b"])
	assert.Empty(t, plan.Effects)
	assert.Equal(t, now, plan.CurrentTimestamp)
}

func TestBuildPlan_SenderSilenced(t *testing.T) {
	snap := Snapshot{sender: {silence(sender, now+50)}}
	plan := BuildPlan("hello", sender, []Target{targetA, targetB}, snap, now, zap.NewNop())

	assert.Empty(t, plan.TargetMessages)
	// The silence still shows up in the informational snapshot.
	require.Len(t, plan.Effects, 1)
	assert.Equal(t, KindSilence, plan.Effects[0].Kind)
}

func TestBuildPlan_SilenceDominatesOtherEffects(t *testing.T) {
	snap := Snapshot{
		sender:          {silence(sender, now+50), poison(sender, now+50, "a", "b", false)},
		targetA.Address: {deafen(targetA.Address, now+50)},
	}
	plan := BuildPlan("hello", sender, []Target{targetA, targetB}, snap, now, zap.NewNop())

	assert.Empty(t, plan.TargetMessages)
	assert.Len(t, plan.Effects, 3)
}

func TestBuildPlan_ExpiredSilenceIsInert(t *testing.T) {
	snap := Snapshot{sender: {silence(sender, now)}} // expiresAt == now is expired
	plan := BuildPlan("hello", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "hello", plan.TargetMessages["agent-a"])
	// Expired effects are still reported.
	require.Len(t, plan.Effects, 1)
}

func TestBuildPlan_DeafenRemovesOnlyThatTarget(t *testing.T) {
	snap := Snapshot{targetA.Address: {deafen(targetA.Address, now+10)}}
	plan := BuildPlan("hello", sender, []Target{targetA, targetB}, snap, now, zap.NewNop())

	_, deafened := plan.TargetMessages["agent-a"]
	assert.False(t, deafened)
	assert.Equal(t, "hello", plan.TargetMessages["agent-b"])
}

func TestBuildPlan_SenderPoisonAppliesToAllTargets(t *testing.T) {
	snap := Snapshot{sender: {poison(sender, now+10, "Bitcoin", "PEPE", false)}}
	plan := BuildPlan("buy Bitcoin now", sender, []Target{targetA, targetB}, snap, now, zap.NewNop())

	assert.Equal(t, "buy PEPE now", plan.TargetMessages["agent-a"])
	assert.Equal(t, "buy PEPE now", plan.TargetMessages["agent-b"])
}

func TestBuildPlan_PoisonCompoundsSenderThenTarget(t *testing.T) {
	snap := Snapshot{
		sender:          {poison(sender, now+10, "Bitcoin", "PEPE", false)},
		targetA.Address: {poison(targetA.Address, now+10, "bullish", "mooning", false)},
	}
	text := "I think investing in Bitcoin is a good idea, the market looks bullish today."
	plan := BuildPlan(text, sender, []Target{targetA, targetB}, snap, now, zap.NewNop())

	assert.Equal(t,
		"I think investing in PEPE is a good idea, the market looks mooning today.",
		plan.TargetMessages["agent-a"])
	// Target B only gets the sender's substitution.
	assert.Equal(t,
		"I think investing in PEPE is a good idea, the market looks bullish today.",
		plan.TargetMessages["agent-b"])
}

func TestBuildPlan_PoisonCaseInsensitiveByDefault(t *testing.T) {
	snap := Snapshot{sender: {poison(sender, now+10, "world", "friend", false)}}
	plan := BuildPlan("Hello World!", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "Hello friend!", plan.TargetMessages["agent-a"])
}

func TestBuildPlan_PoisonCaseSensitive(t *testing.T) {
	snap := Snapshot{sender: {poison(sender, now+10, "world", "friend", true)}}
	plan := BuildPlan("Hello World!", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "Hello World!", plan.TargetMessages["agent-a"])
}

func TestBuildPlan_PoisonReplacesAllOccurrences(t *testing.T) {
	snap := Snapshot{sender: {poison(sender, now+10, "gm", "gn", false)}}
	plan := BuildPlan("gm gm gm", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "gn gn gn", plan.TargetMessages["agent-a"])
}

func TestBuildPlan_InvalidPoisonPatternIsSkipped(t *testing.T) {
	snap := Snapshot{
		sender: {
			poison(sender, now+10, "(unclosed", "x", false),
			// A second, valid poison from the target still applies.
		},
		targetA.Address: {poison(targetA.Address, now+10, "hello", "goodbye", false)},
	}
	plan := BuildPlan("hello there", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "goodbye there", plan.TargetMessages["agent-a"])
}

func TestBuildPlan_UnknownKindIsReportedNotApplied(t *testing.T) {
	snap := Snapshot{sender: {{Kind: "CONFUSION", Target: sender, ExpiresAt: now + 10}}}
	plan := BuildPlan("hello", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "hello", plan.TargetMessages["agent-a"])
	require.Len(t, plan.Effects, 1)
	assert.Equal(t, Kind("CONFUSION"), plan.Effects[0].Kind)
}

func TestBuildPlan_ExpiredDeafenDelivers(t *testing.T) {
	snap := Snapshot{targetA.Address: {deafen(targetA.Address, now-5)}}
	plan := BuildPlan("hello", sender, []Target{targetA}, snap, now, zap.NewNop())

	assert.Equal(t, "hello", plan.TargetMessages["agent-a"])
}

func TestBuildPlan_NoTargets(t *testing.T) {
	plan := BuildPlan("hello", sender, nil, Snapshot{}, now, zap.NewNop())
	assert.Empty(t, plan.TargetMessages)
}

// Property: with an active sender silence, the plan is empty no matter what
// other effects are present.
func TestPropertySilenceAlwaysEmptiesPlan(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		targetCount := rapid.IntRange(0, 8).Draw(t, "targets")
		targets := make([]Target, targetCount)
		snap := Snapshot{sender: {silence(sender, now+1)}}
		for i := range targets {
			addr := rapid.StringMatching(`0x[a-f0-9]{6}`).Draw(t, "addr")
			targets[i] = Target{AgentID: rapid.StringMatching(`agent-[a-z]{4}`).Draw(t, "id"), Address: addr}
			if rapid.Bool().Draw(t, "hasDeafen") {
				snap[addr] = append(snap[addr], deafen(addr, now+1))
			}
			if rapid.Bool().Draw(t, "hasPoison") {
				snap[addr] = append(snap[addr], poison(addr, now+1, "a", "b", false))
			}
		}

		plan := BuildPlan("text", sender, targets, snap, now, zap.NewNop())
		if len(plan.TargetMessages) != 0 {
			t.Fatalf("silenced sender produced %d deliveries", len(plan.TargetMessages))
		}
	})
}

// Property: with an empty snapshot, every target receives the original text
// unchanged.
func TestPropertyEmptySnapshotIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		targetCount := rapid.IntRange(1, 8).Draw(t, "targets")
		targets := make([]Target, targetCount)
		for i := range targets {
			targets[i] = Target{
				AgentID: rapid.StringMatching(`agent-[a-z0-9]{8}`).Draw(t, "id"),
				Address: rapid.StringMatching(`0x[a-f0-9]{8}`).Draw(t, "addr"),
			}
		}

		plan := BuildPlan(text, sender, targets, Snapshot{}, now, zap.NewNop())
		for _, tgt := range targets {
			if got := plan.TargetMessages[tgt.AgentID]; got != text {
				t.Fatalf("target %s got %q, want %q", tgt.AgentID, got, text)
			}
		}
	})
}
