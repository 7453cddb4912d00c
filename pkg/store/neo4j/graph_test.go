package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
)

func TestEntityFromRecord(t *testing.T) {
	record := &db.Record{
		Keys: []string{"id", "canonical_name", "type", "aliases", "props"},
		Values: []any{
			"acme corp",
			"Acme Corp",
			"ORG",
			[]any{"acme", "acme corporation"},
			map[string]any{
				"p_description":  "A company.",
				"canonical_name": "not a user property",
				"p_founded":      "1999",
			},
		},
	}

	e := entityFromRecord(record)
	if e.ID != "acme corp" {
		t.Fatalf("expected id 'acme corp', got %q", e.ID)
	}
	if e.CanonicalName != "Acme Corp" {
		t.Fatalf("expected canonical name 'Acme Corp', got %q", e.CanonicalName)
	}
	if e.Type != "ORG" {
		t.Fatalf("expected type ORG, got %q", e.Type)
	}
	if len(e.Aliases) != 2 || e.Aliases[0] != "acme" {
		t.Fatalf("expected 2 aliases starting with 'acme', got %v", e.Aliases)
	}
	if len(e.Properties) != 2 {
		t.Fatalf("expected 2 user properties, got %v", e.Properties)
	}
	if e.Properties["description"] != "A company." {
		t.Fatalf("expected description property, got %v", e.Properties)
	}
	if _, ok := e.Properties["canonical_name"]; ok {
		t.Fatal("expected store-owned fields to be excluded from properties")
	}
}

func TestEntityFromRecord_MissingOptionalFields(t *testing.T) {
	record := &db.Record{
		Keys:   []string{"id", "canonical_name", "type", "aliases", "props"},
		Values: []any{"x", "X", "", []any{}, map[string]any{}},
	}

	e := entityFromRecord(record)
	if e.ID != "x" || e.Type != "" {
		t.Fatalf("unexpected entity: %+v", e)
	}
	if e.Aliases != nil {
		t.Fatalf("expected no aliases, got %v", e.Aliases)
	}
	if e.Properties != nil {
		t.Fatalf("expected no properties, got %v", e.Properties)
	}
}
