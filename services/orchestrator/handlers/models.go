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
	"net/http"
	"time"

	"github.com/AleutianAI/DataNexus/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
)

// ModelOwner is reported as owned_by for the agent model.
const ModelOwner = "datanexus"

// HandleListModels serves GET /v1/models. Chat front ends call it to fill
// their model picker; the agent is the only model.
func HandleListModels(modelID string) gin.HandlerFunc {
	created := time.Now().Unix()
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.ModelList{
			Object: datatypes.ObjectList,
			Data: []datatypes.Model{{
				ID:      modelID,
				Object:  datatypes.ObjectModel,
				Created: created,
				OwnedBy: ModelOwner,
			}},
		})
	}
}
