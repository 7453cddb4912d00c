// Package loader turns document references into common.Document values.
// Sources load plain text only; format conversion (PDF, office documents,
// OCR) happens upstream of ingestion.
package loader

import (
	"context"
	"fmt"

	"github.com/graphloom/loom/pkg/common"
)

// Source resolves one reference to a document. Implementations decide what
// a reference means: a path under a root directory, an object key in a
// bucket.
type Source interface {
	Load(ctx context.Context, ref string) (common.Document, error)
}

// LoadAll resolves refs in order. The first failing ref aborts the load;
// ingestion retries the whole message, and sources are cheap to re-read.
func LoadAll(ctx context.Context, src Source, refs []string) ([]common.Document, error) {
	docs := make([]common.Document, 0, len(refs))
	for _, ref := range refs {
		doc, err := src.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", ref, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
