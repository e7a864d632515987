// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianLearn/services/learner/stores"
	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
)

// cacheKeyPrefix namespaces context cache entries in the badger store.
const cacheKeyPrefix = "ctx:"

// Embedder turns query text into embedding vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PatternSearcher is the slice of the vector store retrieval needs.
type PatternSearcher interface {
	SearchSimilar(ctx context.Context, vector []float32, limit int) ([]stores.PatternHit, error)
}

// ScoreLookup is the slice of the relational store retrieval needs.
type ScoreLookup interface {
	GetByPatternIDs(ctx context.Context, patternIDs []string) ([]stores.Solution, error)
}

// KnowledgeConfig holds retrieval tuning.
type KnowledgeConfig struct {
	// CacheTTL bounds how long a cached context set stays valid
	// (default: 5 minutes).
	CacheTTL time.Duration

	// SearchLimit is the number of patterns fetched per query
	// (default: 5).
	SearchLimit int
}

// DefaultKnowledgeConfig returns retrieval defaults.
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		CacheTTL:    5 * time.Minute,
		SearchLimit: 5,
	}
}

// KnowledgeLayer retrieves context for a query: cache first, then
// vector search merged with relational scores.
//
// Description:
//
//	The badger cache keeps recently-fetched context sets keyed by query
//	hash, with entry-level TTL so stale knowledge ages out without a
//	sweeper. On a miss the layer embeds the query, searches the vector
//	index, and overlays the authoritative value scores from the
//	relational store onto the hits before caching.
//
// Thread Safety: safe for concurrent use.
type KnowledgeLayer struct {
	config   KnowledgeConfig
	cache    *badger.DB
	embedder Embedder
	patterns PatternSearcher
	scores   ScoreLookup
	sink     telemetry.Sink
	logger   *slog.Logger
}

// NewKnowledgeLayer creates the retrieval layer.
//
// Inputs:
//   - config: Tuning. Zero-value fields get defaults.
//   - cache: Open badger database. Must not be nil.
//   - embedder: Embedding client. Must not be nil.
//   - patterns: Vector search access. Must not be nil.
//   - scores: Relational score access. Must not be nil.
//   - sink: Telemetry stream. Must not be nil.
//   - logger: Structured logger. Must not be nil.
func NewKnowledgeLayer(config KnowledgeConfig, cache *badger.DB, embedder Embedder, patterns PatternSearcher, scores ScoreLookup, sink telemetry.Sink, logger *slog.Logger) *KnowledgeLayer {
	defaults := DefaultKnowledgeConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = defaults.SearchLimit
	}
	return &KnowledgeLayer{
		config:   config,
		cache:    cache,
		embedder: embedder,
		patterns: patterns,
		scores:   scores,
		sink:     sink,
		logger:   logger,
	}
}

// Fetch returns context docs for a query.
//
// Outputs:
//   - []ContextDoc: Retrieved context, possibly empty.
//   - error: Non-nil only when embedding or search fails; cache errors
//     degrade to a fresh fetch.
func (k *KnowledgeLayer) Fetch(ctx context.Context, taskID, query string) ([]ContextDoc, error) {
	key := cacheKey(query)

	if docs, ok := k.cacheGet(key); ok {
		k.emit(ctx, telemetry.EventCacheHit, taskID, map[string]any{"query": query})
		return docs, nil
	}
	k.emit(ctx, telemetry.EventCacheMiss, taskID, map[string]any{"query": query})

	docs, err := k.search(ctx, query)
	if err != nil {
		return nil, err
	}

	k.cacheSet(key, docs)
	k.emit(ctx, telemetry.EventContextFetched, taskID, map[string]any{
		"query":     query,
		"doc_count": len(docs),
	})
	return docs, nil
}

// search embeds the query and merges vector hits with relational scores.
func (k *KnowledgeLayer) search(ctx context.Context, query string) ([]ContextDoc, error) {
	vectors, err := k.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}

	hits, err := k.patterns.SearchSimilar(ctx, vectors[0], k.config.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	patternIDs := make([]string, len(hits))
	for i, hit := range hits {
		patternIDs[i] = hit.PatternID
	}
	solutions, err := k.scores.GetByPatternIDs(ctx, patternIDs)
	if err != nil {
		return nil, fmt.Errorf("relational score lookup: %w", err)
	}
	scoreByPattern := make(map[string]*float64, len(solutions))
	for _, sol := range solutions {
		scoreByPattern[sol.PatternID] = sol.ValueScore
	}

	docs := make([]ContextDoc, 0, len(hits))
	for _, hit := range hits {
		doc := ContextDoc{
			PatternID:  hit.PatternID,
			Query:      hit.Query,
			Steps:      hit.Steps,
			Tags:       hit.Tags,
			Relevance:  hit.Certainty,
			ValueScore: hit.ValueScore,
		}
		// The relational row is authoritative when present.
		if score, ok := scoreByPattern[hit.PatternID]; ok {
			doc.ValueScore = score
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (k *KnowledgeLayer) cacheGet(key []byte) ([]ContextDoc, bool) {
	var docs []ContextDoc
	err := k.cache.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &docs)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			k.logger.Warn("context cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	return docs, true
}

func (k *KnowledgeLayer) cacheSet(key []byte, docs []ContextDoc) {
	data, err := json.Marshal(docs)
	if err != nil {
		k.logger.Warn("context cache marshal failed", slog.String("error", err.Error()))
		return
	}
	err = k.cache.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data).WithTTL(k.config.CacheTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		k.logger.Warn("context cache write failed", slog.String("error", err.Error()))
	}
}

// emit writes one telemetry event; failures are logged, never fatal.
func (k *KnowledgeLayer) emit(ctx context.Context, eventType, taskID string, data map[string]any) {
	err := k.sink.Emit(ctx, telemetry.Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
	})
	if err != nil {
		k.logger.Warn("telemetry emit failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

// cacheKey hashes the query so arbitrary text stays a fixed-size key.
func cacheKey(query string) []byte {
	sum := sha256.Sum256([]byte(query))
	return []byte(cacheKeyPrefix + hex.EncodeToString(sum[:]))
}
