// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultPageSize bounds how many documents a single page may hold. Pages
// are kept small so that no single read holds a socket long enough for a
// managed deployment to cut it.
const DefaultPageSize = 50

// findPageFunc runs one bounded, sorted, limited query and returns its
// documents. Split out so the paging discipline is testable without a
// server.
type findPageFunc func(ctx context.Context, filter bson.D) ([]bson.Raw, error)

// CollectionPager yields the documents of a collection in ascending
// primary-key order, one bounded page at a time. Each page is issued as an
// independent find-sort-limit query keyed off the last _id seen, so no
// long-lived server-side cursor is ever held. The cursor position lives
// only in memory: a pager cannot be rewound or resumed across runs.
type CollectionPager struct {
	pageSize int
	find     findPageFunc

	lastKey bson.RawValue
	started bool
}

// NewCollectionPager returns a pager over the given collection. A
// non-positive pageSize falls back to DefaultPageSize.
func NewCollectionPager(coll *mongo.Collection, pageSize int) *CollectionPager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	find := func(ctx context.Context, filter bson.D) ([]bson.Raw, error) {
		findOpts := mopt.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(pageSize))

		cursor, err := coll.Find(ctx, filter, findOpts)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var docs []bson.Raw
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}

	return &CollectionPager{pageSize: pageSize, find: find}
}

// newPagerWithFind is the test seam for the paging discipline.
func newPagerWithFind(pageSize int, find findPageFunc) *CollectionPager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &CollectionPager{pageSize: pageSize, find: find}
}

// PageSize returns the configured page bound.
func (p *CollectionPager) PageSize() int {
	return p.pageSize
}

// Next returns the next page of up to PageSize documents with _id strictly
// greater than the last document already returned. An empty page means the
// collection is exhausted. Read errors are surfaced untouched: reads are
// repeatable from the last committed key, so retrying is the caller's call.
func (p *CollectionPager) Next(ctx context.Context) ([]bson.Raw, error) {
	filter := bson.D{}
	if p.started {
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: p.lastKey}}}}
	}

	docs, err := p.find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	last := docs[len(docs)-1].Lookup("_id")
	// keep our own copy: the page buffers belong to the caller
	value := make([]byte, len(last.Value))
	copy(value, last.Value)
	p.lastKey = bson.RawValue{Type: last.Type, Value: value}
	p.started = true

	return docs, nil
}
