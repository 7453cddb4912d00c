package graph

import "strings"

// Schema is the extraction vocabulary: the entity types the model may
// assign and the relation predicates it should prefer. The vocabulary is
// rendered into the extraction prompt; it constrains, it does not
// enumerate the graph.
type Schema struct {
	EntityTypes []string
	Predicates  []string
}

// DefaultSchema returns the general-purpose vocabulary used when the
// caller does not supply a domain schema.
func DefaultSchema() Schema {
	return Schema{
		EntityTypes: []string{
			"ORGANIZATION",
			"PERSON",
			"LOCATION",
			"CONCEPT",
			"CREATIVE_WORK",
			"DATE",
			"PRODUCT",
			"EVENT",
		},
		Predicates: []string{
			"works_at",
			"founded",
			"located_in",
			"part_of",
			"member_of",
			"created",
			"produces",
			"occurred_on",
			"related_to",
		},
	}
}

func (s Schema) entityTypes() string {
	return strings.Join(s.EntityTypes, ", ")
}

func (s Schema) predicates() string {
	return strings.Join(s.Predicates, ", ")
}
