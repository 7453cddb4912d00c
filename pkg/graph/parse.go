package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/graphloom/loom/pkg/common"
)

// DefaultDropThreshold is the malformed-record share above which a chunk's
// extraction is considered unusable.
const DefaultDropThreshold = 0.5

// ExtractionQualityError reports a chunk whose model response was mostly
// malformed: more than the configured share of its records had to be
// dropped. The chunk is skipped, not retried; re-asking the model for the
// same text tends to reproduce the same garbage.
type ExtractionQualityError struct {
	ChunkID string
	Dropped int
	Records int
}

func (e *ExtractionQualityError) Error() string {
	return fmt.Sprintf("extraction quality: chunk %s dropped %d of %d records", e.ChunkID, e.Dropped, e.Records)
}

// parseResult is the outcome of parsing one model response.
type parseResult struct {
	mentions []common.Mention
	triples  []common.Triple
	records  int
	dropped  int
}

// parseRecords parses the line-oriented extraction response. A line is a
// record when, after trimming, it is parenthesized and pipe-delimited;
// everything else (prose, blank lines, code fences) is ignored. Records
// with an unknown marker, the wrong field count, empty mandatory fields or
// a confidence outside [0,1] count as dropped.
func parseRecords(raw, chunkID string) parseResult {
	var res parseResult
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "(") || !strings.HasSuffix(line, ")") {
			continue
		}
		body := line[1 : len(line)-1]
		if !strings.Contains(body, "|") {
			continue
		}
		res.records++
		fields := strings.Split(body, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		switch strings.ToLower(fields[0]) {
		case "entity":
			m, ok := parseEntityRecord(fields, chunkID)
			if !ok {
				res.dropped++
				continue
			}
			res.mentions = append(res.mentions, m)
		case "triple":
			t, ok := parseTripleRecord(fields, chunkID)
			if !ok {
				res.dropped++
				continue
			}
			res.triples = append(res.triples, t)
		default:
			res.dropped++
		}
	}
	return res
}

// parseEntityRecord validates (entity|<name>|<TYPE>|<description>). Name
// and type are mandatory; the description may be empty.
func parseEntityRecord(fields []string, chunkID string) (common.Mention, bool) {
	if len(fields) != 4 || fields[1] == "" || fields[2] == "" {
		return common.Mention{}, false
	}
	return common.Mention{
		Name:          fields[1],
		Type:          fields[2],
		Description:   fields[3],
		SourceChunkID: chunkID,
	}, true
}

// parseTripleRecord validates
// (triple|<subject>|<predicate>|<object>|<confidence>). All fields are
// mandatory and the confidence must parse into [0,1]. Endpoints hold
// surface forms here; the merge operator normalizes them into ids.
func parseTripleRecord(fields []string, chunkID string) (common.Triple, bool) {
	if len(fields) != 5 || fields[1] == "" || fields[2] == "" || fields[3] == "" {
		return common.Triple{}, false
	}
	confidence, err := strconv.ParseFloat(fields[4], 64)
	if err != nil || confidence < 0 || confidence > 1 {
		return common.Triple{}, false
	}
	return common.Triple{
		SubjectID:     fields[1],
		Predicate:     fields[2],
		ObjectID:      fields[3],
		Confidence:    confidence,
		SourceChunkID: chunkID,
	}, true
}

// qualityErr returns the quality error for the parse result when the
// dropped share exceeds the threshold, nil otherwise. A response with no
// records at all is not a quality failure; it is a valid empty extraction.
func (r parseResult) qualityErr(chunkID string, threshold float64) error {
	if r.records == 0 {
		return nil
	}
	if float64(r.dropped)/float64(r.records) > threshold {
		return &ExtractionQualityError{ChunkID: chunkID, Dropped: r.dropped, Records: r.records}
	}
	return nil
}
