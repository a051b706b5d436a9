package parser

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     int
		evidence string
	}{
		{name: "approximate portuguese", input: "~123 resultados", want: 123, evidence: "~123 resultados"},
		{name: "plain english", input: "123 results", want: 123, evidence: "123 results"},
		{name: "dotted thousands french", input: "123.456 résultats", want: 123456, evidence: "123.456 résultats"},
		{name: "comma thousands", input: "About 12,345 results", want: 12345},
		{name: "space thousands", input: "~1 234 résultats", want: 1234},
		{name: "non-breaking space", input: "~2\u00a0500 resultados", want: 2500},
		{name: "german", input: "Ungefähr 87 Ergebnisse", want: 87},
		{name: "italian", input: "~15 risultati", want: 15},
		{name: "singular", input: "1 resultado", want: 1},
		{name: "confirmed zero", input: "0 results", want: 0},
		{name: "label form", input: "Resultados: 610", want: 610},
		{name: "surrounded by markup text", input: "Filtros ~42 resultados Anúncios", want: 42},
		{name: "year before count is not merged", input: "2024 123 results", want: 123},
		{name: "uppercase unit", input: "~9 RESULTS", want: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.input)
			if !ok {
				t.Fatalf("Extract(%q) found nothing, want %d", tt.input, tt.want)
			}
			if got.Count != tt.want {
				t.Fatalf("Extract(%q) = %d, want %d", tt.input, got.Count, tt.want)
			}
			if tt.evidence != "" && got.Evidence != tt.evidence {
				t.Fatalf("evidence = %q, want %q", got.Evidence, tt.evidence)
			}
		})
	}
}

func TestExtractNotFound(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"no counter on this page",
		"results are loading",
		"123 anúncios",
	}
	for _, input := range inputs {
		if got, ok := Extract(input); ok {
			t.Fatalf("Extract(%q) = %+v, want not found", input, got)
		}
	}
}

func TestExtractApproximationWinsOverPlain(t *testing.T) {
	got, ok := Extract("5 results ... ~700 results")
	if !ok {
		t.Fatalf("expected a match")
	}
	if got.Count != 700 || got.Rule != "approx-en" {
		t.Fatalf("got %d via %s, want 700 via approx-en", got.Count, got.Rule)
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{input: "1.234.567", want: 1234567, ok: true},
		{input: "1 234", want: 1234, ok: true},
		{input: "0", want: 0, ok: true},
		{input: "", ok: false},
		{input: "99999999999999999999999", ok: false},
	}
	for _, tt := range tests {
		got, ok := parseCount(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("parseCount(%q) = %d,%v want %d,%v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}
