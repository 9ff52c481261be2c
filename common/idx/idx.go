// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package idx models secondary index definitions as read from a source
// collection and prepares them for replay against a destination.
package idx

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// IndexDocument holds information about a collection's index.
type IndexDocument struct {
	Options                 bson.M `bson:",inline"`
	Key                     bson.D `bson:"key"`
	PartialFilterExpression bson.D `bson:"partialFilterExpression,omitempty"`
}

// replayableOptions are the index options carried over to the destination.
// Anything else (ns, v, storage-engine internals) is dropped rather than
// risk a createIndexes rejection on a newer server.
var replayableOptions = map[string]bool{
	"name":                 true,
	"unique":               true,
	"sparse":               true,
	"background":           true,
	"expireAfterSeconds":   true,
	"hidden":               true,
	"collation":            true,
	"weights":              true,
	"default_language":     true,
	"language_override":    true,
	"textIndexVersion":     true,
	"2dsphereIndexVersion": true,
	"bits":                 true,
	"min":                  true,
	"max":                  true,
	"wildcardProjection":   true,
}

// NewIndexDocumentFromD converts a bson.D index spec into an IndexDocument.
func NewIndexDocumentFromD(doc bson.D) (*IndexDocument, error) {
	indexDoc := IndexDocument{Options: bson.M{}}

	for _, elem := range doc {
		switch elem.Key {
		case "key":
			if val, ok := elem.Value.(bson.D); ok {
				indexDoc.Key = val
				continue
			}
			return nil, fmt.Errorf("index key could not type assert to bson.D")
		case "partialFilterExpression":
			if val, ok := elem.Value.(bson.D); ok {
				indexDoc.PartialFilterExpression = val
				continue
			}
			return nil, fmt.Errorf("index partialFilterExpression could not type assert to bson.D")
		default:
			indexDoc.Options[elem.Key] = elem.Value
		}
	}

	if indexDoc.Key == nil {
		return nil, fmt.Errorf("index spec is missing a key")
	}

	return &indexDoc, nil
}

// Name returns the index name, or the empty string if it has none.
func (id *IndexDocument) Name() string {
	name, _ := id.Options["name"].(string)
	return name
}

// IsDefaultIdIndex returns whether this is the implicit primary-key index
// created with every collection.
func (id *IndexDocument) IsDefaultIdIndex() bool {
	if len(id.Key) != 1 || id.Key[0].Key != "_id" {
		return false
	}
	switch v := id.Key[0].Value.(type) {
	case string:
		// legacy servers stored the direction as a string
		return v != "hashed"
	default:
		return true
	}
}

// CommandDocument renders the index as an element for the createIndexes
// command, keeping only the options the destination is known to accept.
func (id *IndexDocument) CommandDocument() bson.D {
	cmd := bson.D{{Key: "key", Value: id.Key}}

	for opt, val := range id.Options {
		if replayableOptions[opt] {
			cmd = append(cmd, bson.E{Key: opt, Value: val})
		}
	}

	if len(id.PartialFilterExpression) > 0 {
		cmd = append(cmd, bson.E{Key: "partialFilterExpression", Value: id.PartialFilterExpression})
	}

	return cmd
}
