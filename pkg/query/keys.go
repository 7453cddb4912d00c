package query

import (
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/vector"
)

// State keys of the query pipeline.
var (
	// KeyQueryText and KeyTopK seed a query run.
	KeyQueryText = pipeline.NewKey[string]("query_text")
	KeyTopK      = pipeline.NewKey[int]("top_k")

	// KeyHopCount bounds graph expansion; 0 disables it.
	KeyHopCount = pipeline.NewKey[int]("hop_count")

	// KeyCandidates is produced by vector search, ordered score
	// descending.
	KeyCandidates = pipeline.NewKey[[]vector.Hit]("candidate_passages")

	// KeyExpanded is produced by graph expansion: deduplicated entity
	// renderings reachable from the entity-kind candidates.
	KeyExpanded = pipeline.NewKey[[]string]("expanded_context")

	// KeyAssembled is the deduplicated, budget-trimmed context handed to
	// answer synthesis.
	KeyAssembled = pipeline.NewKey[string]("assembled_context")

	// KeyAnswer is the final answer text.
	KeyAnswer = pipeline.NewKey[string]("answer")
)
