// Package effect defines on-chain PvP status effects and the pure engine
// that applies them to a message before delivery.
package effect

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies a status effect variant.
type Kind string

const (
	KindSilence Kind = "SILENCE"
	KindDeafen  Kind = "DEAFEN"
	KindPoison  Kind = "POISON"
)

// PoisonParams is the decoded parameter blob for a Poison effect.
type PoisonParams struct {
	Find          string `json:"find"`
	Replace       string `json:"replace"`
	CaseSensitive bool   `json:"caseSensitive"`
}

// StatusEffect is one live PvP modifier as reported by the effect oracle.
// Parameters are decoded once at the oracle boundary; the engine never sees
// raw encoded bytes.
type StatusEffect struct {
	// Kind is the effect variant. Unrecognised kinds are carried through
	// for reporting but never influence delivery.
	Kind Kind `json:"kind"`
	// Target is the effect-identity address the effect is attached to.
	Target string `json:"target"`
	// Instigator is the address that bought or cast the effect.
	Instigator string `json:"instigator"`
	// ExpiresAt is the logical timestamp after which the effect is inert.
	ExpiresAt int64 `json:"expiresAt"`
	// Poison holds decoded parameters when Kind == KindPoison.
	Poison *PoisonParams `json:"poison,omitempty"`
}

// ActiveAt reports whether the effect is live at the given logical timestamp.
func (e StatusEffect) ActiveAt(now int64) bool {
	return e.ExpiresAt > now
}

// Snapshot maps an effect-identity address to its effects as observed at one
// logical timestamp. A snapshot is valid only for the duration of a single
// message-processing operation.
type Snapshot map[string][]StatusEffect

// Flatten returns all effects for the given addresses, sender first, in the
// supplied target order. Expired and unrecognised effects are included; this
// is the informational view recorded for audit and spectators.
func (s Snapshot) Flatten(sender string, targets []string) []StatusEffect {
	var out []StatusEffect
	out = append(out, s[sender]...)
	for _, t := range targets {
		if t == sender {
			continue
		}
		out = append(out, s[t]...)
	}
	return out
}

// DecodeParameters parses a raw kind-specific parameter blob into its typed
// form on the effect. Blobs arrive hex-encoded from the chain ("0x" prefix
// optional) wrapping a JSON document; bare JSON is also accepted.
//
// Postcondition: For a Poison effect, e.Poison is populated on success.
// Non-parameterised kinds always succeed.
func (e *StatusEffect) DecodeParameters(raw []byte) error {
	if e.Kind != KindPoison {
		return nil
	}
	if len(raw) == 0 {
		return fmt.Errorf("poison effect from %s: empty parameters", e.Instigator)
	}

	data := raw
	trimmed := strings.TrimPrefix(string(raw), "0x")
	if decoded, err := hex.DecodeString(trimmed); err == nil {
		data = decoded
	}

	var params PoisonParams
	if err := json.Unmarshal(data, &params); err != nil {
		return fmt.Errorf("decoding poison parameters: %w", err)
	}
	e.Poison = &params
	return nil
}
