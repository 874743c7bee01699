// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim"`
}

type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// ServiceEmbedder calls the embedding sidecar.
type ServiceEmbedder struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
}

// NewServiceEmbedder builds a client for baseURL. A trailing "/embed" is
// tolerated so the same value works for older deployments.
func NewServiceEmbedder(baseURL, model string, dim int) *ServiceEmbedder {
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed")
	return &ServiceEmbedder{
		baseURL:    baseURL,
		model:      model,
		dim:        dim,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s *ServiceEmbedder) Dimension() int { return s.dim }
func (s *ServiceEmbedder) Model() string  { return s.model }

func (s *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := s.post(ctx, "/embed", embedRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	if err := checkDimension(resp.Vector, s.dim); err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

func (s *ServiceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp batchEmbedResponse
	if err := s.post(ctx, "/batch_embed", batchEmbedRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("/batch_embed returned %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	for _, v := range resp.Vectors {
		if err := checkDimension(v, s.dim); err != nil {
			return nil, err
		}
	}
	return resp.Vectors, nil
}

func (s *ServiceEmbedder) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s endpoint: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

var _ Embedder = (*ServiceEmbedder)(nil)
