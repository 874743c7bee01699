// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	resp := CheckHealth(context.Background(), map[string]HealthCheck{"database": ok, "vectorstore": ok}, time.Second)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"database": "ok", "vectorstore": "ok"}, resp.Components)

	resp = CheckHealth(context.Background(), map[string]HealthCheck{"database": ok, "llm": slow}, 20*time.Millisecond)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Components["database"])
	assert.Contains(t, resp.Components["llm"], "deadline exceeded")
}

func TestHandleHealth(t *testing.T) {
	checks := map[string]HealthCheck{"database": func(context.Context) error { return errBoom }}
	r := gin.New()
	r.GET("/health", HandleHealth(checks, time.Second))

	w := doJSON(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "boom", resp.Components["database"])

	r = gin.New()
	r.GET("/health", HandleHealth(nil, 0))
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/health", "").Code)
}

func TestListModels(t *testing.T) {
	r := gin.New()
	r.GET("/v1/models", HandleListModels("datanexus-agent"))

	w := doJSON(r, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list datatypes.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "datanexus-agent", list.Data[0].ID)
	assert.Equal(t, ModelOwner, list.Data[0].OwnedBy)
}
