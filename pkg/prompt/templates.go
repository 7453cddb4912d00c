package prompt

// Template names the operators render. Deployments may override any body
// via Registry.Load while keeping these names.
const (
	TripleExtraction     = "triple_extraction"
	TripleExtractionJSON = "triple_extraction_json"
	EntityDedup          = "entity_dedup"
	EntitySummary        = "entity_summary"
	AnswerSynthesis      = "answer_synthesis"
)

var builtins = map[string]string{
	TripleExtraction:     tripleExtractionBody,
	TripleExtractionJSON: tripleExtractionJSONBody,
	EntityDedup:          entityDedupBody,
	EntitySummary:        entitySummaryBody,
	AnswerSynthesis:      answerSynthesisBody,
}

const tripleExtractionBody = `
# Task Context
You are tasked with extracting structured entity and relationship information from the provided text. Capture every fact explicitly present in the text, without omission and without invention.

# Background Data
- **Entity_types:** [{{.EntityTypes}}]
- **Predicates:** [{{.Predicates}}]

# Detailed Task Description & Rules
- Identify all entities of the given types mentioned in the text.
- For each entity report its name exactly as it appears, one of the given entity types, and a one-sentence description grounded in the text.
- Identify every relationship between two reported entities. Use one of the given predicates; if none fits, pick the closest short verb phrase in lower_snake_case.
- Give every relationship a confidence between 0.0 and 1.0: 1.0 for facts stated outright, lower for facts you had to infer.
- Output one record per line and nothing else: no prose, no numbering, no code fences.

# Output Formatting
Each line is a parenthesized, pipe-delimited record in one of exactly two shapes:

(entity|<name>|<TYPE>|<description>)
(triple|<subject name>|<predicate>|<object name>|<confidence>)

# Examples
Text: "Marie Delacroix founded Ardent Labs in Lyon. The company builds irrigation sensors."
Output:
(entity|Marie Delacroix|PERSON|Founder of Ardent Labs.)
(entity|Ardent Labs|ORGANIZATION|Company in Lyon that builds irrigation sensors.)
(entity|Lyon|LOCATION|City where Ardent Labs was founded.)
(triple|Marie Delacroix|founded|Ardent Labs|1.0)
(triple|Ardent Labs|located_in|Lyon|0.9)

# Immediate Task
Extract all records from the following text.

Text:
{{.Text}}
`

const tripleExtractionJSONBody = `
# Task Context
You are tasked with extracting structured entity and relationship information from the provided text. Capture every fact explicitly present in the text, without omission and without invention.

# Background Data
- **Entity_types:** [{{.EntityTypes}}]
- **Predicates:** [{{.Predicates}}]

# Detailed Task Description & Rules
- Identify all entities of the given types mentioned in the text.
- For each entity report its name exactly as it appears, one of the given entity types, and a one-sentence description grounded in the text.
- Identify every relationship between two reported entities. Use one of the given predicates; if none fits, pick the closest short verb phrase in lower_snake_case.
- Give every relationship a confidence between 0.0 and 1.0: 1.0 for facts stated outright, lower for facts you had to infer.
- Respond with the structured output only.

# Immediate Task
Extract all entities and relationships from the following text.

Text:
{{.Text}}
`

const entityDedupBody = `
# Task Context
You are a helpful assistant specialized in identifying duplicate entities in a knowledge graph. You will be provided with a list of entities.

# Background Data
{{.Entities}}

# Detailed Task Description & Rules
- Find entities that are duplicates of each other based on their name and type.
- Consider entities as duplicates if they represent the same real-world entity despite naming differences: abbreviations, legal suffixes, spelling variants.
- Be careful: entities with distinct identities must remain separate (e.g., "Amazon" and "Amazon Web Services" are different business units).
- For each group of duplicates choose the most complete name as canonical.
- Only group entities that appear in the provided list.

# Output Formatting
Return a JSON object with this structure and nothing else:
{
  "groups": [
    {
      "canonical": "<chosen canonical name>",
      "members": ["<name1>", "<name2>"]
    }
  ]
}
Return {"groups": []} when there are no duplicates.
`

const entitySummaryBody = `
# Task Context
You consolidate fragmented entity descriptions from a knowledge graph into one coherent description.

# Background Data
- **Entity:** {{.Name}}
- **Type:** {{.Type}}
- **Collected descriptions:**
{{.Descriptions}}

# Detailed Task Description & Rules
- Merge the collected descriptions into a single paragraph.
- Keep every distinct fact; drop only repetition.
- Do not add information that is not present in the descriptions.
- Answer with the paragraph only, no preamble.
`

const answerSynthesisBody = `
# Task Context
You answer a user question strictly from the retrieved context of a knowledge graph.

# Background Data
{{.Context}}

# Detailed Task Description & Rules
- Use only the information in the context above; never use outside knowledge.
- If the context does not contain the answer, say so plainly instead of guessing.
- Answer concisely in complete sentences.

# Immediate Task
Question: {{.Query}}
`
