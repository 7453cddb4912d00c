package common

import "strings"

// Document is a unit of ingestion: a piece of unstructured text together
// with the reference it was loaded from. Documents are the input of the
// construction pipeline; everything downstream (chunks, triples, entities)
// carries provenance back to a document id.
type Document struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk represents a contiguous segment of text cut from a document.
// Chunks are the smallest unit handed to the language model and serve as
// the provenance for extracted triples.
//
// Start and End are rune offsets into the document text. A chunk is
// immutable once created.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
}

// Mention is a raw entity occurrence as the model reported it, before any
// normalization. Merging turns mentions with the same normalized name into
// a single Entity.
type Mention struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	SourceChunkID string `json:"source_chunk_id"`
}

// Triple is an extracted relation fact between two entities. Subject and
// object ids are normalized (see NormalizeID) so that repeated extraction
// of the same fact converges on the same edge.
type Triple struct {
	SubjectID     string  `json:"subject_id"`
	Predicate     string  `json:"predicate"`
	ObjectID      string  `json:"object_id"`
	Confidence    float64 `json:"confidence"`
	SourceChunkID string  `json:"source_chunk_id"`
}

// Key returns the identity of the triple for deduplication purposes.
// Confidence and provenance do not participate: the same fact reported
// twice is still one edge.
func (t Triple) Key() string {
	return t.SubjectID + "|" + t.Predicate + "|" + t.ObjectID
}

// Entity represents a node in the graph: an organization, person, location,
// or any other concept the extraction schema names. The ID is the
// normalized canonical name; Aliases collects every surface form that was
// merged into this record.
//
// Entities with the same normalized canonical name merge: aliases and
// properties are unioned, previously stored properties are never lost.
type Entity struct {
	ID            string            `json:"id"`
	CanonicalName string            `json:"canonical_name"`
	Aliases       []string          `json:"aliases"`
	Type          string            `json:"type"`
	Properties    map[string]string `json:"properties"`
}

// Description returns the entity's description property, if any.
func (e Entity) Description() string {
	if e.Properties == nil {
		return ""
	}
	return e.Properties["description"]
}

// Render returns the one-line text form of the entity used for embedding
// payloads and retrieval context: "name (type): description", with empty
// parts omitted.
func (e Entity) Render() string {
	var sb strings.Builder
	sb.WriteString(e.CanonicalName)
	if e.Type != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Type)
		sb.WriteString(")")
	}
	if desc := e.Description(); desc != "" {
		sb.WriteString(": ")
		sb.WriteString(desc)
	}
	return sb.String()
}

// NormalizeID canonicalizes an entity identifier: case-folded, leading and
// trailing whitespace trimmed, inner whitespace runs collapsed to single
// spaces. "Paris " and "paris" normalize to the same id.
func NormalizeID(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
