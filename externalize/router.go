// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package externalize rewrites collection records into compact head
// documents pointing at JSON bodies held in object storage, and can
// validate that every claimed body is actually retrievable.
package externalize

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// HeadSuffix names the companion namespace holding head documents for a
// collection: records of "users" get heads in "users_head".
const HeadSuffix = "_head"

// Route identifies where a collection's records live.
type Route struct {
	Database   string
	Collection string
}

// BlobStore is the narrow object-storage capability the migrator needs.
// The transport behind it (signing, HTTP semantics) is its own business.
type BlobStore interface {
	PutJSON(ctx context.Context, bucket, key string, payload []byte) error
	GetJSON(ctx context.Context, bucket, key string) ([]byte, error)
}

// PageSequence yields the documents of one collection in ascending
// primary-key order, a bounded page at a time. A nil page means the
// sequence is exhausted.
type PageSequence interface {
	Next(ctx context.Context) ([]bson.Raw, error)
}

// Datastore is the record-side capability of a route: paging source
// records, reading and writing head documents, and the per-collection
// change-version counter.
type Datastore interface {
	// Count returns how many records the collection holds, captured once
	// up front for progress reporting.
	Count(ctx context.Context, collection string) (int64, error)
	// Pages pages the collection's documents in primary-key order.
	Pages(collection string, pageSize int) PageSequence
	// FindHead returns the head document for the record with the given
	// primary key, or nil if none exists.
	FindHead(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error)
	// UpsertHead writes the head document into the collection's head
	// namespace, keyed by the record's primary key.
	UpsertHead(ctx context.Context, collection string, id bson.RawValue, head bson.D) error
	// ReplaceRecord overwrites the original record in place with its head.
	ReplaceRecord(ctx context.Context, collection string, id bson.RawValue, head bson.D) error
	// NextChangeVersion atomically increments and returns the collection's
	// change-version counter.
	NextChangeVersion(ctx context.Context, collection string) (int64, error)
}

// Router is the injected capability bundle of externalization mode. The
// migrator never touches a driver or an SDK directly, so tests run it
// against in-memory fakes.
type Router interface {
	// Route resolves where a collection's records live.
	Route(database, collection string) Route
	// Client returns the record-side handle for a route.
	Client(route Route) Datastore
	// Storage returns the object-storage handle and the bucket uploads
	// land in.
	Storage(ctx context.Context) (BlobStore, string, error)
	// DeriveKey derives the deterministic storage key of a record. The
	// same (collection, id, revision) always yields the same key, which
	// makes uploads idempotent on retry.
	DeriveKey(collection, id string, revision int) string
	// NextChangeVersion increments the collection's bookkeeping counter.
	NextChangeVersion(ctx context.Context, collection string) (int64, error)
	// Shutdown releases any connections the router holds.
	Shutdown()
}

// DeriveKey is the canonical key-derivation shared by every router
// implementation.
func DeriveKey(collection, id string, revision int) string {
	return fmt.Sprintf("%s/%s/%d.json", collection, id, revision)
}

// IsInternalNamespace reports whether a collection belongs to the
// migration's own bookkeeping (head namespaces and counters) rather than
// to the records being externalized.
func IsInternalNamespace(name string) bool {
	return strings.HasSuffix(name, HeadSuffix) || name == counterCollection
}
