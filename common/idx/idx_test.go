// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package idx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNewIndexDocumentFromD(t *testing.T) {
	doc := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: bson.D{{Key: "user", Value: int32(1)}, {Key: "created", Value: int32(-1)}}},
		{Key: "name", Value: "user_1_created_-1"},
		{Key: "unique", Value: true},
		{Key: "partialFilterExpression", Value: bson.D{{Key: "archived", Value: false}}},
	}

	index, err := NewIndexDocumentFromD(doc)
	require.NoError(t, err)
	assert.Equal(t, "user_1_created_-1", index.Name())
	assert.Equal(t, bson.D{{Key: "user", Value: int32(1)}, {Key: "created", Value: int32(-1)}}, index.Key)
	assert.Equal(t, bson.D{{Key: "archived", Value: false}}, index.PartialFilterExpression)
	assert.Equal(t, true, index.Options["unique"])
}

func TestNewIndexDocumentFromDMissingKey(t *testing.T) {
	_, err := NewIndexDocumentFromD(bson.D{{Key: "name", Value: "nope"}})
	assert.Error(t, err)
}

func TestIsDefaultIdIndex(t *testing.T) {
	cases := []struct {
		Document  IndexDocument
		IsDefault bool
	}{
		{
			Document: IndexDocument{
				Key: bson.D{{Key: "_id", Value: int32(1)}},
			},
			IsDefault: true,
		},
		{
			Document: IndexDocument{
				Key: bson.D{{Key: "_id", Value: 1}},
			},
			IsDefault: true,
		},
		{
			Document: IndexDocument{
				Key: bson.D{{Key: "_id", Value: ""}}, // legacy
			},
			IsDefault: true,
		},
		{
			Document: IndexDocument{
				Key: bson.D{{Key: "_id", Value: "hashed"}},
			},
			IsDefault: false,
		},
		{
			Document: IndexDocument{
				Key: bson.D{{Key: "user", Value: int32(1)}},
			},
			IsDefault: false,
		},
		{
			Document: IndexDocument{
				Key: bson.D{{Key: "_id", Value: int32(1)}, {Key: "user", Value: int32(1)}},
			},
			IsDefault: false,
		},
	}

	for _, curCase := range cases {
		assert.Equal(
			t,
			curCase.IsDefault,
			curCase.Document.IsDefaultIdIndex(),
			"%+v", curCase.Document,
		)
	}
}

func TestCommandDocument(t *testing.T) {
	index := &IndexDocument{
		Key: bson.D{{Key: "loc", Value: "2dsphere"}},
		Options: bson.M{
			"name":                 "loc_2dsphere",
			"2dsphereIndexVersion": int32(3),
			"v":                    int32(2), // dropped
			"ns":                   "test.places", // dropped
		},
	}

	cmd := index.CommandDocument()
	m := cmd.Map()
	assert.Equal(t, bson.D{{Key: "loc", Value: "2dsphere"}}, m["key"])
	assert.Equal(t, "loc_2dsphere", m["name"])
	assert.Equal(t, int32(3), m["2dsphereIndexVersion"])
	assert.NotContains(t, m, "v")
	assert.NotContains(t, m, "ns")
}

func TestCommandDocumentPartialFilter(t *testing.T) {
	index, err := NewIndexDocumentFromD(bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: bson.D{{Key: "user", Value: int32(1)}}},
		{Key: "name", Value: "user_1_partial"},
		{Key: "partialFilterExpression", Value: bson.D{{Key: "archived", Value: false}}},
	})
	require.NoError(t, err)
	assert.NotContains(t, index.Options, "partialFilterExpression",
		"the filter lives on its own field, never in the options map")

	occurrences := 0
	for _, elem := range index.CommandDocument() {
		if elem.Key == "partialFilterExpression" {
			occurrences++
			assert.Equal(t, bson.D{{Key: "archived", Value: false}}, elem.Value)
		}
	}
	assert.Equal(t, 1, occurrences)
}
