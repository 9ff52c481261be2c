// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongoclone

import (
	"context"
	"fmt"

	"github.com/mongoclone/mongoclone/common/idx"
	"github.com/mongoclone/mongoclone/common/log"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// listSecondaryIndexes reads the source collection's index definitions,
// leaving out the implicit primary-key index.
func listSecondaryIndexes(ctx context.Context, coll *mongo.Collection) ([]*idx.IndexDocument, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error listing indexes")
	}
	defer cursor.Close(ctx)

	var indexes []*idx.IndexDocument
	for cursor.Next(ctx) {
		var spec bson.D
		if err := cursor.Decode(&spec); err != nil {
			return nil, errors.Wrap(err, "error decoding index spec")
		}
		index, err := idx.NewIndexDocumentFromD(spec)
		if err != nil {
			return nil, err
		}
		if index.IsDefaultIdIndex() {
			continue
		}
		indexes = append(indexes, index)
	}
	return indexes, cursor.Err()
}

// createIndexCommand renders one createIndexes command for a single index.
// Indexes are created one at a time so a single bad definition cannot sink
// its siblings.
func createIndexCommand(collection string, index *idx.IndexDocument) bson.D {
	return bson.D{
		{Key: "createIndexes", Value: collection},
		{Key: "indexes", Value: bson.A{index.CommandDocument()}},
	}
}

// SyncIndexes replays the source collection's secondary indexes onto the
// destination. A failure to create any single index is logged and skipped:
// an index that cannot build (say, a uniqueness violation discovered at
// build time) should not undo an otherwise-complete data copy. Returns how
// many indexes were created.
func SyncIndexes(ctx context.Context, source *mongo.Collection, dest *mongo.Database, collection string) (int, error) {
	indexes, err := listSecondaryIndexes(ctx, source)
	if err != nil {
		return 0, err
	}

	ns := fmt.Sprintf("%v.%v", dest.Name(), collection)
	if len(indexes) == 0 {
		log.Logvf(log.Info, "no secondary indexes to sync for %v", ns)
		return 0, nil
	}

	created := 0
	for _, index := range indexes {
		log.Logvf(log.Info, "creating index %v on %v", index.Name(), ns)
		res := dest.RunCommand(ctx, createIndexCommand(collection, index))
		if err := res.Err(); err != nil {
			log.Logvf(log.Always, "warning: couldn't create index %v on %v: %v", index.Name(), ns, err)
			continue
		}
		created++
	}

	log.Logvf(log.Always, "synced %v of %v %v for %v",
		created, len(indexes), util.Pluralize(len(indexes), "index", "indexes"), ns)
	return created, nil
}
