package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/prompt"
)

// extractTemperature keeps extraction output stable across runs.
const extractTemperature = 0.1

// SkippedChunk records why one chunk produced nothing.
type SkippedChunk struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// ExtractionReport is the per-item accounting of an extraction run:
// how many chunks made it through, which were skipped and why, and how
// many malformed records were dropped along the way.
type ExtractionReport struct {
	ChunksProcessed int            `json:"chunks_processed"`
	ChunksSkipped   []SkippedChunk `json:"chunks_skipped,omitempty"`
	RecordsDropped  int            `json:"records_dropped"`
	Mentions        int            `json:"mentions"`
	Triples         int            `json:"triples"`
}

// ExtractParams configures an ExtractOperator. Model is mandatory; zero
// values elsewhere select the builtin prompts, the default schema, the
// default retry policy and the default drop threshold.
type ExtractParams struct {
	Model   ai.ModelClient
	Prompts *prompt.Registry
	Schema  Schema

	// Retry is applied around each per-chunk model call.
	Retry pipeline.RetryPolicy

	// DropThreshold is the malformed-record share above which a chunk
	// fails with ExtractionQualityError.
	DropThreshold float64

	// JSONFormat switches to structured output for backends that enforce
	// a JSON schema server-side, instead of parsing line records.
	JSONFormat bool
}

// ExtractOperator turns chunks into entity mentions and relation triples
// by prompting the model once per chunk. Chunks whose calls keep failing
// or whose responses are mostly garbage are recorded in the extraction
// report and skipped; the operator itself fails only when a hard
// collaborator error occurs or when no chunk succeeds at all.
type ExtractOperator struct {
	model      ai.ModelClient
	prompts    *prompt.Registry
	schema     Schema
	retry      pipeline.RetryPolicy
	threshold  float64
	jsonFormat bool
}

// NewExtractOperator builds the extraction operator.
func NewExtractOperator(p ExtractParams) (*ExtractOperator, error) {
	if p.Model == nil {
		return nil, errors.New("graph: extract operator needs a model client")
	}
	if p.Prompts == nil {
		p.Prompts = prompt.NewRegistry()
	}
	if len(p.Schema.EntityTypes) == 0 {
		p.Schema = DefaultSchema()
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = Retryable
	}
	if p.DropThreshold <= 0 {
		p.DropThreshold = DefaultDropThreshold
	}
	return &ExtractOperator{
		model:      p.Model,
		prompts:    p.Prompts,
		schema:     p.Schema,
		retry:      p.Retry,
		threshold:  p.DropThreshold,
		jsonFormat: p.JSONFormat,
	}, nil
}

func (o *ExtractOperator) Name() string { return "extract" }

func (o *ExtractOperator) Requires() []string { return []string{KeyChunks.Name()} }

func (o *ExtractOperator) Produces() []string {
	return []string{KeyMentions.Name(), KeyTriples.Name(), KeyExtractionReport.Name()}
}

func (o *ExtractOperator) Run(ctx context.Context, st *pipeline.State) error {
	chunks, err := pipeline.Get(st, KeyChunks)
	if err != nil {
		return err
	}

	mentions := []common.Mention{}
	triples := []common.Triple{}
	var report ExtractionReport
	var lastErr error

	for _, chunk := range chunks {
		res, err := o.extractChunk(ctx, chunk)
		if err != nil {
			if hardFailure(err) {
				return err
			}
			report.ChunksSkipped = append(report.ChunksSkipped, SkippedChunk{
				ChunkID: chunk.ID,
				Reason:  err.Error(),
			})
			logger.Warn("[Extract] Chunk skipped", "item", st.ID(), "chunk", chunk.ID, "error", err)
			lastErr = err
			continue
		}
		report.ChunksProcessed++
		report.RecordsDropped += res.dropped
		mentions = append(mentions, res.mentions...)
		triples = append(triples, res.triples...)
	}

	if len(chunks) > 0 && report.ChunksProcessed == 0 {
		return lastErr
	}

	report.Mentions = len(mentions)
	report.Triples = len(triples)
	if err := pipeline.Set(st, KeyMentions, mentions); err != nil {
		return err
	}
	if err := pipeline.Set(st, KeyTriples, triples); err != nil {
		return err
	}
	if err := pipeline.Set(st, KeyExtractionReport, report); err != nil {
		return err
	}
	logger.Debug("[Extract] Extraction finished",
		"item", st.ID(), "chunks", report.ChunksProcessed, "skipped", len(report.ChunksSkipped),
		"mentions", report.Mentions, "triples", report.Triples, "dropped", report.RecordsDropped)
	return nil
}

func (o *ExtractOperator) extractChunk(ctx context.Context, chunk common.Chunk) (parseResult, error) {
	if o.jsonFormat {
		return o.extractStructured(ctx, chunk)
	}
	promptText, err := o.prompts.Render(prompt.TripleExtraction, map[string]any{
		"EntityTypes": o.schema.entityTypes(),
		"Predicates":  o.schema.predicates(),
		"Text":        chunk.Text,
	})
	if err != nil {
		return parseResult{}, err
	}
	raw, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.model.Complete(ctx, promptText, ai.WithTemperature(extractTemperature))
	})
	if err != nil {
		return parseResult{}, err
	}
	res := parseRecords(raw, chunk.ID)
	if err := res.qualityErr(chunk.ID, o.threshold); err != nil {
		return parseResult{}, err
	}
	return res, nil
}

type extractEntity struct {
	Name        string `json:"name" jsonschema_description:"Entity name exactly as it appears in the text"`
	Type        string `json:"type" jsonschema_description:"One of the allowed entity types"`
	Description string `json:"description" jsonschema_description:"One-sentence description grounded in the text"`
}

type extractTriple struct {
	Subject    string  `json:"subject" jsonschema_description:"Name of the subject entity"`
	Predicate  string  `json:"predicate" jsonschema_description:"Relation predicate in lower_snake_case"`
	Object     string  `json:"object" jsonschema_description:"Name of the object entity"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0.0 and 1.0"`
}

type extractResponse struct {
	Entities []extractEntity `json:"entities" jsonschema_description:"All entities found in the text"`
	Triples  []extractTriple `json:"triples" jsonschema_description:"All relationships between found entities"`
}

// extractStructured asks for schema-constrained output and applies the
// same validation and quality thresholds as the line-record path.
func (o *ExtractOperator) extractStructured(ctx context.Context, chunk common.Chunk) (parseResult, error) {
	promptText, err := o.prompts.Render(prompt.TripleExtractionJSON, map[string]any{
		"EntityTypes": o.schema.entityTypes(),
		"Predicates":  o.schema.predicates(),
		"Text":        chunk.Text,
	})
	if err != nil {
		return parseResult{}, err
	}
	resp, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) (extractResponse, error) {
		var out extractResponse
		err := o.model.CompleteWithFormat(ctx,
			"knowledge_extraction",
			"Entities and relationships extracted from a text passage.",
			promptText, &out, ai.WithTemperature(extractTemperature))
		return out, err
	})
	if err != nil {
		return parseResult{}, err
	}

	var res parseResult
	res.records = len(resp.Entities) + len(resp.Triples)
	for _, e := range resp.Entities {
		m, ok := parseEntityRecord([]string{"entity", strings.TrimSpace(e.Name), strings.TrimSpace(e.Type), strings.TrimSpace(e.Description)}, chunk.ID)
		if !ok {
			res.dropped++
			continue
		}
		res.mentions = append(res.mentions, m)
	}
	for _, t := range resp.Triples {
		if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Predicate) == "" ||
			strings.TrimSpace(t.Object) == "" || t.Confidence < 0 || t.Confidence > 1 {
			res.dropped++
			continue
		}
		res.triples = append(res.triples, common.Triple{
			SubjectID:     strings.TrimSpace(t.Subject),
			Predicate:     strings.TrimSpace(t.Predicate),
			ObjectID:      strings.TrimSpace(t.Object),
			Confidence:    t.Confidence,
			SourceChunkID: chunk.ID,
		})
	}
	if err := res.qualityErr(chunk.ID, o.threshold); err != nil {
		return parseResult{}, err
	}
	return res, nil
}

// hardFailure reports errors that must abort the operator instead of
// skipping the current chunk: cancellation and rejected credentials.
func hardFailure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ai.ErrAuthentication)
}
