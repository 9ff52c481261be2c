// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package externalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mongoclone/mongoclone/common/log"
	"github.com/mongoclone/mongoclone/common/progress"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// bookkeepingFields are stripped from a record before upload: they describe
// a previous life of the record, not its payload.
var bookkeepingFields = map[string]bool{
	"_id":       true,
	"storage":   true,
	"cv":        true,
	"jobs":      true,
	"createdAt": true,
	"updatedAt": true,
}

// Migrator drives externalization of one database's collections through an
// injected Router.
type Migrator struct {
	Router   Router
	Database string
	PageSize int

	// Resume skips records whose head already carries a storage pointer,
	// making a re-run of an interrupted migration upload nothing twice.
	Resume bool

	ProgressManager progress.Manager
}

// Stats summarizes one collection's migration.
type Stats struct {
	Total    int64
	Migrated int64
	Skipped  int64
}

// MigrateCollection replaces every record of the collection with a head
// document pointing at its uploaded JSON body. Records are processed
// strictly in primary-key order, one at a time; the first error ends the
// run, and a restart with Resume set picks up where it stopped.
func (m *Migrator) MigrateCollection(ctx context.Context, collection string) (Stats, error) {
	route := m.Router.Route(m.Database, collection)
	store := m.Router.Client(route)

	blobs, bucket, err := m.Router.Storage(ctx)
	if err != nil {
		return Stats{}, err
	}

	total, err := store.Count(ctx, collection)
	if err != nil {
		return Stats{}, err
	}

	ns := fmt.Sprintf("%v.%v", m.Database, collection)
	watch := progress.NewCounter(total)
	if m.ProgressManager != nil {
		m.ProgressManager.Attach(ns, watch)
		defer m.ProgressManager.Detach(ns)
	}

	stats := Stats{Total: total}
	pages := store.Pages(collection, m.PageSize)
	for {
		page, err := pages.Next(ctx)
		if err != nil {
			return stats, errors.Wrapf(err, "error reading %v", ns)
		}
		if page == nil {
			break
		}

		for _, record := range page {
			migrated, err := m.migrateRecord(ctx, store, blobs, bucket, collection, record)
			if err != nil {
				return stats, err
			}
			if migrated {
				stats.Migrated++
			} else {
				stats.Skipped++
			}

			processed := stats.Migrated + stats.Skipped
			watch.Set(processed)
			if log.IsInVerbosity(log.DebugLow) {
				log.Logvf(log.DebugLow, "%v: %v of %v records (%v)",
					ns, processed, total, util.PercentComplete(processed, total))
			}
		}
	}

	log.Logvf(log.Always, "externalized %v of %v %v in %v (%v skipped)",
		stats.Migrated, stats.Total,
		util.Pluralize(int(stats.Total), "record", "records"), ns, stats.Skipped)
	return stats, nil
}

// migrateRecord runs one record through the state machine. It either skips
// (resume found a populated storage pointer) or uploads the payload and
// writes the head, returning whether an upload happened.
func (m *Migrator) migrateRecord(ctx context.Context, store Datastore, blobs BlobStore, bucket, collection string, record bson.Raw) (bool, error) {
	key := record.Lookup("_id")

	if m.Resume {
		head, err := store.FindHead(ctx, collection, key)
		if err != nil {
			return false, err
		}
		if HasStoragePointer(head) {
			// the record itself still lacking the pointer means the prior
			// run crashed between the head write and the record rewrite;
			// finish that rewrite before skipping
			if !HasStoragePointer(record) {
				var headDoc bson.D
				if err := bson.Unmarshal(head, &headDoc); err != nil {
					return false, errors.Wrapf(err, "error reading head of %v in %v", key, collection)
				}
				if err := store.ReplaceRecord(ctx, collection, key, headDoc); err != nil {
					return false, errors.Wrapf(err, "error repairing %v of %v", key, collection)
				}
				log.Logvf(log.Info, "repaired partially externalized %v of %v", key, collection)
			}
			if log.IsInVerbosity(log.DebugHigh) {
				log.Logvf(log.DebugHigh, "skipping %v of %v: already externalized", key, collection)
			}
			return false, nil
		}
	}

	payload, id, err := buildPayload(record)
	if err != nil {
		return false, errors.Wrapf(err, "error deriving payload of %v in %v", key, collection)
	}

	// canonical extended JSON over an order-preserving document, so the
	// same record always yields the same bytes and the same checksum
	body, err := bson.MarshalExtJSON(payload, true, false)
	if err != nil {
		return false, errors.Wrapf(err, "error serializing %v of %v", key, collection)
	}
	digest := sha256.Sum256(body)

	storageKey := m.Router.DeriveKey(collection, id, 0)
	if err := blobs.PutJSON(ctx, bucket, storageKey, body); err != nil {
		return false, errors.Wrapf(err, "error uploading %v of %v", key, collection)
	}

	cv, err := m.Router.NextChangeVersion(ctx, collection)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	head := bson.D{
		{Key: "_id", Value: key},
		{Key: "id", Value: id},
		{Key: "storage", Value: bson.D{
			{Key: "bucket", Value: bucket},
			{Key: "key", Value: storageKey},
			{Key: "size", Value: int64(len(body))},
			{Key: "checksum", Value: hex.EncodeToString(digest[:])},
		}},
		{Key: "cv", Value: cv},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
		{Key: "jobs", Value: bson.A{}},
	}

	// the head namespace is written first: a crash between the two writes
	// leaves the original record intact and the resume marker set, so a
	// re-run skips the upload and rewrites the original in place
	if err := store.UpsertHead(ctx, collection, key, head); err != nil {
		return false, err
	}
	if err := store.ReplaceRecord(ctx, collection, key, head); err != nil {
		return false, err
	}
	return true, nil
}

// HasStoragePointer reports whether a head document carries a populated
// storage pointer, the single durable marker of "this record migrated".
func HasStoragePointer(head bson.Raw) bool {
	if head == nil {
		return false
	}
	key, ok := head.Lookup("storage", "key").StringValueOK()
	return ok && key != ""
}

// buildPayload strips the record's bookkeeping fields into an
// order-preserving payload and returns it with the record's business
// identifier, synthesizing one for records that lack a usable value.
func buildPayload(record bson.Raw) (bson.D, string, error) {
	var doc bson.D
	if err := bson.Unmarshal(record, &doc); err != nil {
		return nil, "", err
	}

	payload := make(bson.D, 0, len(doc))
	id := ""
	idSeen := false
	for _, elem := range doc {
		if bookkeepingFields[elem.Key] {
			continue
		}
		if elem.Key == "id" {
			idSeen = true
			if s, ok := elem.Value.(string); ok && s != "" {
				id = s
			} else {
				// non-string identifiers are not addressable in a
				// storage key; replace with a synthesized one
				id = uuid.NewString()
				elem.Value = id
			}
		}
		payload = append(payload, elem)
	}

	if !idSeen {
		id = uuid.NewString()
		payload = append(payload, bson.E{Key: "id", Value: id})
	}
	return payload, id, nil
}
