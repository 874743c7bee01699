// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names for each collection.
const (
	ClassSchema  = "DbSchemaMetadata"
	ClassFewShot = "FewShotSqlExample"
	ClassMemory  = "LongTermUserMemory"
)

// className maps a collection to its Weaviate class.
func className(collection string) (string, error) {
	switch collection {
	case CollectionSchema:
		return ClassSchema, nil
	case CollectionFewShot:
		return ClassFewShot, nil
	case CollectionMemory:
		return ClassMemory, nil
	}
	return "", checkCollection(collection)
}

func textProperty() *models.Property {
	return &models.Property{
		Name:         "text",
		DataType:     []string{"text"},
		Description:  "The stored text.",
		Tokenization: "word",
	}
}

func filterableProperty(name, description string) *models.Property {
	indexFilterable := true
	return &models.Property{
		Name:            name,
		DataType:        []string{"text"},
		Description:     description,
		IndexFilterable: &indexFilterable,
		Tokenization:    "field",
	}
}

func createdAtProperty() *models.Property {
	indexFilterable := true
	return &models.Property{
		Name:            "created_at",
		DataType:        []string{"number"},
		Description:     "Unix milliseconds when the object was stored.",
		IndexFilterable: &indexFilterable,
	}
}

// GetSchemaMetadataClass describes one table per object.
func GetSchemaMetadataClass() *models.Class {
	return &models.Class{
		Class:       ClassSchema,
		Description: "Rendered description of a database table: columns, keys and indexes.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			textProperty(),
			filterableProperty("source", "Schema and table the text was generated from."),
			createdAtProperty(),
		},
	}
}

// GetFewShotClass describes question/SQL example pairs.
func GetFewShotClass() *models.Class {
	return &models.Class{
		Class:       ClassFewShot,
		Description: "A natural language question paired with a correct SQL query.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			textProperty(),
			filterableProperty("source", "File the example was loaded from."),
			createdAtProperty(),
		},
	}
}

// GetMemoryClass describes durable facts about a user.
func GetMemoryClass() *models.Class {
	return &models.Class{
		Class:       ClassMemory,
		Description: "A fact about a user curated from past conversations.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			textProperty(),
			filterableProperty("user_id", "Owner of the memory."),
			filterableProperty("source", "Where the fact came from."),
			createdAtProperty(),
		},
	}
}

func allClasses() []*models.Class {
	return []*models.Class{GetSchemaMetadataClass(), GetFewShotClass(), GetMemoryClass()}
}
