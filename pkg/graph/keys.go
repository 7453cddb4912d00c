package graph

import (
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/pipeline"
)

// State keys of the construction pipeline. Operators declare these names
// in Requires/Produces; the typed handles keep reads and writes honest.
var (
	// KeyDocument seeds a construction run.
	KeyDocument = pipeline.NewKey[common.Document]("document")

	// KeyChunks is produced by the chunk operator.
	KeyChunks = pipeline.NewKey[[]common.Chunk]("chunks")

	// KeyMentions and KeyTriples are produced by extraction. Both are
	// always set after a successful extraction, possibly empty.
	KeyMentions = pipeline.NewKey[[]common.Mention]("mentions")
	KeyTriples  = pipeline.NewKey[[]common.Triple]("triples")

	// KeyExtractionReport carries per-item extraction accounting.
	KeyExtractionReport = pipeline.NewKey[ExtractionReport]("extraction_report")

	// KeyMergedEntities and KeyMergedEntityIDs are produced by the merge
	// operator after the graph store upserts succeed.
	KeyMergedEntities  = pipeline.NewKey[[]common.Entity]("merged_entities")
	KeyMergedEntityIDs = pipeline.NewKey[[]string]("merged_entity_ids")

	// KeyDedupedCount counts entities merged away by the dedup operator.
	KeyDedupedCount = pipeline.NewKey[int]("deduped_count")

	// KeyIndexedCount counts vector upserts, accumulated across index
	// stages in the same run.
	KeyIndexedCount = pipeline.NewKey[int]("indexed_count")
)
