package neo4j

// Entity properties are stored as node properties with a "p_" prefix, so
// SET += gives property-map union natively. Aliases are unioned with
// reduce to stay portable across servers without APOC.
const (
	upsertEntityQuery = `
		MERGE (n:Entity {id: $id})
		ON CREATE SET
			n.canonical_name = $canonical_name,
			n.created_at = datetime()
		SET n.type = CASE WHEN coalesce(n.type, '') = '' THEN $type ELSE n.type END,
			n.aliases = reduce(acc = [], a IN coalesce(n.aliases, []) + $aliases |
				CASE WHEN a IN acc THEN acc ELSE acc + a END),
			n.updated_at = datetime()
		SET n += $props
		RETURN n.id AS id
	`

	upsertRelationQuery = `
		MATCH (source:Entity {id: $subject_id})
		MATCH (target:Entity {id: $object_id})
		MERGE (source)-[e:RELATES {predicate: $predicate}]->(target)
		SET e.confidence = CASE
				WHEN coalesce(e.confidence, 0.0) < $confidence THEN $confidence
				ELSE e.confidence
			END,
			e.source_chunk_id = CASE
				WHEN $source_chunk_id <> '' THEN $source_chunk_id
				ELSE coalesce(e.source_chunk_id, '')
			END,
			e.updated_at = datetime()
		RETURN e.predicate AS predicate
	`

	entityIndexQuery = `
		CREATE INDEX entity_id IF NOT EXISTS FOR (n:Entity) ON (n.id)
	`
)

// fetchNeighborsQueryFmt needs the hop bound inlined: Cypher does not
// parameterize variable-length patterns. hops is validated as a small
// positive integer before formatting.
const fetchNeighborsQueryFmt = `
	MATCH (seed:Entity {id: $id})-[:RELATES*1..%d]-(n:Entity)
	WHERE n.id <> $id
	RETURN DISTINCT n.id AS id,
		n.canonical_name AS canonical_name,
		coalesce(n.type, '') AS type,
		coalesce(n.aliases, []) AS aliases,
		properties(n) AS props
	ORDER BY id
`
