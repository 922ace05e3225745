// Package loader reads normalized documents for ingestion.
//
// Documents arrive either as JSON produced by the upstream normalizer or as
// cleaned plain text, which FromText cuts into segments. Sources abstract
// where the bytes live: the local filesystem or an S3 bucket.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// Source fetches raw document payloads by key.
type Source interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Decode parses a normalized document in its JSON form.
func Decode(data []byte) (common.Document, error) {
	var doc common.Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return common.Document{}, fmt.Errorf("%w: %v", common.ErrInvalidDocument, err)
	}
	return doc, nil
}

// LoadParams controls how a key is turned into a document. ID and Version
// are only used for plain text payloads; JSON documents carry their own.
type LoadParams struct {
	Key       string
	ID        string
	Version   int64
	MaxTokens int
}

// Load fetches params.Key from src. Keys ending in .json are decoded as
// normalized documents, everything else is segmented as plain text.
func Load(ctx context.Context, src Source, params LoadParams) (common.Document, error) {
	data, err := src.Get(ctx, params.Key)
	if err != nil {
		return common.Document{}, fmt.Errorf("load %s: %w", params.Key, err)
	}
	if strings.EqualFold(path.Ext(params.Key), ".json") {
		return Decode(data)
	}

	id := params.ID
	if id == "" {
		id = strings.TrimSuffix(path.Base(params.Key), path.Ext(params.Key))
	}
	return FromText(TextParams{
		ID:        id,
		Version:   params.Version,
		Text:      string(data),
		MaxTokens: params.MaxTokens,
	})
}
