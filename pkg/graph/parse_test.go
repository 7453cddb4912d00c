package graph

import (
	"errors"
	"testing"
)

func TestParseRecords(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantMentions int
		wantTriples  int
		wantDropped  int
		wantRecords  int
	}{
		{
			name:         "entities and triples",
			raw:          "(entity|Acme Corp|ORGANIZATION|Maker of sensors.)\n(triple|Alice|works_at|Acme Corp|0.9)",
			wantMentions: 1,
			wantTriples:  1,
			wantRecords:  2,
		},
		{
			name:         "prose around records ignored",
			raw:          "Here are the results:\n(entity|Acme Corp|ORGANIZATION|Maker of sensors.)\nThat is all.",
			wantMentions: 1,
			wantRecords:  1,
		},
		{
			name:         "code fences ignored",
			raw:          "```\n(entity|Alice|PERSON|An engineer.)\n```",
			wantMentions: 1,
			wantRecords:  1,
		},
		{
			name:        "wrong field count dropped",
			raw:         "(entity|Acme Corp|ORGANIZATION)",
			wantDropped: 1,
			wantRecords: 1,
		},
		{
			name:        "empty name dropped",
			raw:         "(entity||ORGANIZATION|Something.)",
			wantDropped: 1,
			wantRecords: 1,
		},
		{
			name:         "empty description kept",
			raw:          "(entity|Acme Corp|ORGANIZATION|)",
			wantMentions: 1,
			wantRecords:  1,
		},
		{
			name:        "unparsable confidence dropped",
			raw:         "(triple|Alice|works_at|Acme Corp|high)",
			wantDropped: 1,
			wantRecords: 1,
		},
		{
			name:        "confidence above one dropped",
			raw:         "(triple|Alice|works_at|Acme Corp|1.5)",
			wantDropped: 1,
			wantRecords: 1,
		},
		{
			name:        "negative confidence dropped",
			raw:         "(triple|Alice|works_at|Acme Corp|-0.2)",
			wantDropped: 1,
			wantRecords: 1,
		},
		{
			name:        "unknown marker dropped",
			raw:         "(fact|Alice|Acme Corp)",
			wantDropped: 1,
			wantRecords: 1,
		},
		{
			name:         "parens inside fields survive",
			raw:          "(entity|Acme (UK)|ORGANIZATION|British subsidiary.)",
			wantMentions: 1,
			wantRecords:  1,
		},
		{
			name: "empty response",
			raw:  "",
		},
		{
			name: "plain parenthetical is not a record",
			raw:  "(no structured facts found)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseRecords(tt.raw, "c1")
			if len(res.mentions) != tt.wantMentions {
				t.Errorf("expected %d mentions, got %d", tt.wantMentions, len(res.mentions))
			}
			if len(res.triples) != tt.wantTriples {
				t.Errorf("expected %d triples, got %d", tt.wantTriples, len(res.triples))
			}
			if res.dropped != tt.wantDropped {
				t.Errorf("expected %d dropped, got %d", tt.wantDropped, res.dropped)
			}
			if res.records != tt.wantRecords {
				t.Errorf("expected %d records, got %d", tt.wantRecords, res.records)
			}
		})
	}
}

func TestParseRecordsFields(t *testing.T) {
	raw := "(entity| Marie Delacroix |PERSON| Founder of Ardent Labs. )\n" +
		"(triple|Marie Delacroix| founded |Ardent Labs|0.8)"
	res := parseRecords(raw, "chunk-7")

	if len(res.mentions) != 1 || len(res.triples) != 1 {
		t.Fatalf("expected 1 mention and 1 triple, got %d and %d", len(res.mentions), len(res.triples))
	}
	m := res.mentions[0]
	if m.Name != "Marie Delacroix" {
		t.Errorf("expected trimmed name, got %q", m.Name)
	}
	if m.Type != "PERSON" || m.Description != "Founder of Ardent Labs." {
		t.Errorf("unexpected mention fields: %+v", m)
	}
	if m.SourceChunkID != "chunk-7" {
		t.Errorf("expected source chunk chunk-7, got %q", m.SourceChunkID)
	}
	tr := res.triples[0]
	if tr.SubjectID != "Marie Delacroix" || tr.Predicate != "founded" || tr.ObjectID != "Ardent Labs" {
		t.Errorf("unexpected triple fields: %+v", tr)
	}
	if tr.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", tr.Confidence)
	}
	if tr.SourceChunkID != "chunk-7" {
		t.Errorf("expected source chunk chunk-7, got %q", tr.SourceChunkID)
	}
}

func TestQualityErr(t *testing.T) {
	tests := []struct {
		name    string
		res     parseResult
		wantErr bool
	}{
		{"no records at all", parseResult{}, false},
		{"all records valid", parseResult{records: 4}, false},
		{"exactly half dropped", parseResult{records: 4, dropped: 2}, false},
		{"mostly dropped", parseResult{records: 4, dropped: 3}, true},
		{"single record dropped", parseResult{records: 1, dropped: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.qualityErr("c1", DefaultDropThreshold)
			if tt.wantErr {
				var quality *ExtractionQualityError
				if !errors.As(err, &quality) {
					t.Fatalf("expected ExtractionQualityError, got %v", err)
				}
				if quality.ChunkID != "c1" || quality.Dropped != tt.res.dropped || quality.Records != tt.res.records {
					t.Errorf("unexpected error fields: %+v", quality)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
