package models

import "testing"

func TestParsePersona(t *testing.T) {
	tests := []struct {
		in      string
		want    Persona
		wantErr bool
	}{
		{"", DefaultPersona, false},
		{"architect", PersonaArchitect, false},
		{"Oracle", PersonaOracle, false},
		{"  SENTINEL  ", PersonaSentinel, false},
		{"trickster", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePersona(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePersona(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePersona(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}

func TestPersonaDescriptionsDistinct(t *testing.T) {
	seen := map[string]Persona{}
	for _, p := range []Persona{PersonaArchitect, PersonaOracle, PersonaSentinel} {
		desc := p.Description()
		if desc == "" {
			t.Fatalf("persona %s has no description", p)
		}
		if prev, dup := seen[desc]; dup {
			t.Fatalf("personas %s and %s share a description", prev, p)
		}
		seen[desc] = p
	}
}
