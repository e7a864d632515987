// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stores holds the persistence clients for the learned corpus:
// the Weaviate vector index, the Postgres solution table, and the local
// spill file used when a circuit is open.
package stores

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
)

// PatternClass is the Weaviate class holding interaction patterns.
const PatternClass = "InteractionPattern"

// maxConcurrentSearches bounds parallel similarity queries per window.
const maxConcurrentSearches = 4

// listPageSize is the GraphQL page size for full-corpus scans.
const listPageSize = 500

// PatternRef is the slim view of a stored pattern used by GC passes.
type PatternRef struct {
	// ID is the Weaviate object UUID.
	ID string

	// PatternID is the learner-assigned pattern UUID.
	PatternID string

	// ContentHash is the exact-dedup key.
	ContentHash string

	// ValueScore is the persisted score; nil when the pattern was stored
	// awaiting feedback.
	ValueScore *float64

	// CreatedAt is the extraction timestamp in unix milliseconds.
	CreatedAt int64
}

// VectorStore wraps the Weaviate client for pattern persistence.
//
// All calls are expected to run under the vector-store circuit breaker;
// the store itself performs no retries.
type VectorStore struct {
	client *weaviate.Client
}

// NewVectorStore creates a store from a Weaviate base URL.
//
// Inputs:
//   - rawURL: e.g. "http://weaviate:8080". Scheme and host are required.
//
// Outputs:
//   - *VectorStore: Ready to use store.
//   - error: Non-nil on an invalid URL or client failure.
func NewVectorStore(rawURL string) (*VectorStore, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate URL %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &VectorStore{client: client}, nil
}

// EnsureSchema creates the pattern class if it does not exist.
func (s *VectorStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(PatternClass).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class existence: %w", err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      PatternClass,
		Vectorizer: "none", // vectors are supplied by the learner
		Properties: []*models.Property{
			{Name: "pattern_id", DataType: []string{"text"}},
			{Name: "query", DataType: []string{"text"}},
			{Name: "steps", DataType: []string{"text[]"}},
			{Name: "tags", DataType: []string{"text[]"}},
			{Name: "content_hash", DataType: []string{"text"}},
			{Name: "value_score", DataType: []string{"number"}},
			{Name: "requires_feedback", DataType: []string{"boolean"}},
			{Name: "source_events", DataType: []string{"text[]"}},
			{Name: "created_at", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", PatternClass, err)
	}
	return nil
}

// UpsertPattern stores one pattern with its embedding vector.
func (s *VectorStore) UpsertPattern(ctx context.Context, pattern *extract.Pattern, vector []float32) error {
	props := map[string]any{
		"pattern_id":        pattern.ID,
		"query":             pattern.Query,
		"steps":             pattern.Steps,
		"tags":              pattern.Tags,
		"content_hash":      pattern.ContentHash(),
		"requires_feedback": pattern.Score.RequiresFeedback,
		"source_events":     pattern.SourceEvents,
		"created_at":        pattern.CreatedAt.UnixMilli(),
	}
	if pattern.Score.Value != nil {
		props["value_score"] = *pattern.Score.Value
	}

	_, err := s.client.Data().Creator().
		WithClassName(PatternClass).
		WithProperties(props).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("upsert pattern %s: %w", pattern.ID, err)
	}
	return nil
}

// similarityResponse parses the nearVector query result.
type similarityResponse struct {
	Get struct {
		InteractionPattern []struct {
			Additional struct {
				Certainty *float32 `json:"certainty"`
			} `json:"_additional"`
		} `json:"InteractionPattern"`
	} `json:"Get"`
}

// MaxSimilarity returns the highest certainty against the stored corpus
// for each input vector.
//
// Description:
//
//	Called once per scoring window with the whole batch. Queries run with
//	bounded concurrency so a large window cannot stampede the store. A
//	vector with no neighbors scores 0.
//
// Outputs:
//
//	[]float64 - One value in [0, 1] per input vector, same order.
//	error - Non-nil if any query fails.
func (s *VectorStore) MaxSimilarity(ctx context.Context, vectors [][]float32) ([]float64, error) {
	out := make([]float64, len(vectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSearches)
	for i, vec := range vectors {
		g.Go(func() error {
			resp, err := s.client.GraphQL().Get().
				WithClassName(PatternClass).
				WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
				WithLimit(1).
				WithFields(graphql.Field{
					Name:   "_additional",
					Fields: []graphql.Field{{Name: "certainty"}},
				}).
				Do(gctx)
			if err != nil {
				return fmt.Errorf("near-vector search: %w", err)
			}
			parsed, err := ParseGraphQLResponse[similarityResponse](resp)
			if err != nil {
				return err
			}
			hits := parsed.Get.InteractionPattern
			if len(hits) > 0 && hits[0].Additional.Certainty != nil {
				out[i] = float64(*hits[0].Additional.Certainty)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PatternHit is one similarity search match.
type PatternHit struct {
	PatternID  string
	Query      string
	Steps      []string
	Tags       []string
	ValueScore *float64
	Certainty  float64
}

// searchResponse parses the retrieval query result.
type searchResponse struct {
	Get struct {
		InteractionPattern []struct {
			PatternID  string   `json:"pattern_id"`
			Query      string   `json:"query"`
			Steps      []string `json:"steps"`
			Tags       []string `json:"tags"`
			ValueScore *float64 `json:"value_score"`
			Additional struct {
				Certainty *float32 `json:"certainty"`
			} `json:"_additional"`
		} `json:"InteractionPattern"`
	} `json:"Get"`
}

// SearchSimilar returns the patterns nearest to the given vector.
func (s *VectorStore) SearchSimilar(ctx context.Context, vector []float32, limit int) ([]PatternHit, error) {
	resp, err := s.client.GraphQL().Get().
		WithClassName(PatternClass).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "pattern_id"},
			graphql.Field{Name: "query"},
			graphql.Field{Name: "steps"},
			graphql.Field{Name: "tags"},
			graphql.Field{Name: "value_score"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	parsed, err := ParseGraphQLResponse[searchResponse](resp)
	if err != nil {
		return nil, err
	}

	hits := make([]PatternHit, 0, len(parsed.Get.InteractionPattern))
	for _, raw := range parsed.Get.InteractionPattern {
		hit := PatternHit{
			PatternID:  raw.PatternID,
			Query:      raw.Query,
			Steps:      raw.Steps,
			Tags:       raw.Tags,
			ValueScore: raw.ValueScore,
		}
		if raw.Additional.Certainty != nil {
			hit.Certainty = float64(*raw.Additional.Certainty)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// listResponse parses a corpus page.
type listResponse struct {
	Get struct {
		InteractionPattern []struct {
			PatternID   string   `json:"pattern_id"`
			ContentHash string   `json:"content_hash"`
			ValueScore  *float64 `json:"value_score"`
			CreatedAt   int64    `json:"created_at"`
			Additional  struct {
				ID string `json:"id"`
			} `json:"_additional"`
		} `json:"InteractionPattern"`
	} `json:"Get"`
}

// ListRefs pages through the whole pattern corpus.
//
// Used by GC passes only; the learning loop never scans the corpus.
func (s *VectorStore) ListRefs(ctx context.Context) ([]PatternRef, error) {
	var refs []PatternRef
	offset := 0
	for {
		resp, err := s.client.GraphQL().Get().
			WithClassName(PatternClass).
			WithLimit(listPageSize).
			WithOffset(offset).
			WithFields(
				graphql.Field{Name: "pattern_id"},
				graphql.Field{Name: "content_hash"},
				graphql.Field{Name: "value_score"},
				graphql.Field{Name: "created_at"},
				graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
			).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		parsed, err := ParseGraphQLResponse[listResponse](resp)
		if err != nil {
			return nil, err
		}
		page := parsed.Get.InteractionPattern
		for _, hit := range page {
			refs = append(refs, PatternRef{
				ID:          hit.Additional.ID,
				PatternID:   hit.PatternID,
				ContentHash: hit.ContentHash,
				ValueScore:  hit.ValueScore,
				CreatedAt:   hit.CreatedAt,
			})
		}
		if len(page) < listPageSize {
			return refs, nil
		}
		offset += listPageSize
	}
}

// DeleteByIDs removes pattern objects by Weaviate UUID.
//
// Outputs:
//   - int64: Number of objects deleted.
//   - error: Non-nil on the first failed delete.
func (s *VectorStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	for _, id := range ids {
		err := s.client.Data().Deleter().
			WithClassName(PatternClass).
			WithID(id).
			Do(ctx)
		if err != nil {
			return deleted, fmt.Errorf("delete pattern %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// DeleteByPatternIDs removes pattern objects matching learner pattern IDs.
func (s *VectorStore) DeleteByPatternIDs(ctx context.Context, patternIDs []string) (int64, error) {
	if len(patternIDs) == 0 {
		return 0, nil
	}
	values := make([]string, len(patternIDs))
	copy(values, patternIDs)

	result, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(PatternClass).
		WithWhere(filters.Where().
			WithPath([]string{"pattern_id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(values...)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete by pattern ids: %w", err)
	}
	if result != nil && result.Results != nil {
		return result.Results.Successful, nil
	}
	return 0, nil
}

// Ping checks Weaviate readiness.
func (s *VectorStore) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}
