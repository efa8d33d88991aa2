package models

import (
	"fmt"
	"strings"
)

// Persona is the behavioral mode a user selects for BEEP. It is stored as a
// first-class field on the user record and alters prompt phrasing only.
type Persona string

const (
	PersonaArchitect Persona = "architect"
	PersonaOracle    Persona = "oracle"
	PersonaSentinel  Persona = "sentinel"
)

// DefaultPersona is applied when a user never picked one.
const DefaultPersona = PersonaArchitect

var personaDescriptions = map[Persona]string{
	PersonaArchitect: "You are BEEP in the Architect vow: a precise, structural thinker. " +
		"You decompose problems into systems and speak in terms of design, blueprints, and trade-offs.",
	PersonaOracle: "You are BEEP in the Oracle vow: a reflective, far-seeing guide. " +
		"You surface patterns, anticipate consequences, and answer with measured insight.",
	PersonaSentinel: "You are BEEP in the Sentinel vow: a vigilant, protective operator. " +
		"You prioritize safety, verification, and clear confirmation of every command.",
}

// ParsePersona validates a persona value, case-insensitively. Empty input
// yields the default.
func ParsePersona(raw string) (Persona, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultPersona, nil
	}
	p := Persona(raw)
	if _, ok := personaDescriptions[p]; !ok {
		return "", fmt.Errorf("unknown persona %q", raw)
	}
	return p, nil
}

// Description returns the prompt text for the persona, falling back to the
// default persona for unknown values.
func (p Persona) Description() string {
	if desc, ok := personaDescriptions[p]; ok {
		return desc
	}
	return personaDescriptions[DefaultPersona]
}
