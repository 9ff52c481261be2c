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

	"github.com/mongoclone/mongoclone/common/log"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Validate reads back every storage object referenced by the collection's
// head documents and verifies its checksum. Failures are logged and counted
// but never end the pass, and nothing is ever mutated. Returns how many
// heads passed and how many failed.
func (m *Migrator) Validate(ctx context.Context, collection string) (passed, failed int64, err error) {
	route := m.Router.Route(m.Database, collection)
	store := m.Router.Client(route)

	blobs, bucket, err := m.Router.Storage(ctx)
	if err != nil {
		return 0, 0, err
	}

	ns := fmt.Sprintf("%v.%v", m.Database, collection)
	pages := store.Pages(collection+HeadSuffix, m.PageSize)
	for {
		page, err := pages.Next(ctx)
		if err != nil {
			return passed, failed, errors.Wrapf(err, "error reading heads of %v", ns)
		}
		if page == nil {
			break
		}

		for _, head := range page {
			if !HasStoragePointer(head) {
				continue
			}
			if validateHead(ctx, blobs, bucket, collection, head) {
				passed++
			} else {
				failed++
			}
		}
	}

	log.Logvf(log.Always, "validated %v: %v passed, %v %v",
		ns, passed, failed, util.Pluralize(int(failed), "failure", "failures"))
	return passed, failed, nil
}

// validateHead reads one head's storage object back and compares its
// checksum against what the head recorded.
func validateHead(ctx context.Context, blobs BlobStore, bucket, collection string, head bson.Raw) bool {
	key := head.Lookup("storage", "key").StringValue()

	body, err := blobs.GetJSON(ctx, bucket, key)
	if err != nil {
		log.Logvf(log.Always, "validation failure for %v key %v: %v", collection, key, err)
		return false
	}

	if want, ok := head.Lookup("storage", "checksum").StringValueOK(); ok && want != "" {
		digest := sha256.Sum256(body)
		if got := hex.EncodeToString(digest[:]); got != want {
			log.Logvf(log.Always, "validation failure for %v key %v: checksum mismatch (%v != %v)",
				collection, key, got, want)
			return false
		}
	}
	return true
}
