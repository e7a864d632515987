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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLearn/services/llm"
)

// answerPromptHeader frames the retrieved patterns for the model.
const answerPromptHeader = `You are answering a user query. Relevant patterns learned from
previous successful tasks are listed below. Follow them where they apply.`

// LLMExecutor answers queries through a completion client, grounding
// the prompt in the retrieved context docs.
//
// Both the local and the remote route are served by this type; they
// differ only in the client (and model) they wrap.
type LLMExecutor struct {
	client llm.LLMClient
}

// NewLLMExecutor wraps a completion client as an Executor.
func NewLLMExecutor(client llm.LLMClient) *LLMExecutor {
	return &LLMExecutor{client: client}
}

// Run answers one query.
func (e *LLMExecutor) Run(ctx context.Context, query string, docs []ContextDoc) (*Result, error) {
	answer, err := e.client.Generate(ctx, buildPrompt(query, docs), llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Result{
		Answer:     answer,
		Confidence: retrievalConfidence(docs),
	}, nil
}

// buildPrompt renders the query and its context docs into one prompt.
func buildPrompt(query string, docs []ContextDoc) string {
	var b strings.Builder
	b.WriteString(answerPromptHeader)
	b.WriteString("\n\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "Pattern %d (relevance %.2f): %s\n", i+1, doc.Relevance, doc.Query)
		for _, step := range doc.Steps {
			fmt.Fprintf(&b, "  - %s\n", step)
		}
	}
	b.WriteString("\nQuery: ")
	b.WriteString(query)
	return b.String()
}
