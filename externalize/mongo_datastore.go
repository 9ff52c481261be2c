// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package externalize

import (
	"context"

	"github.com/mongoclone/mongoclone/common/db"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// counterCollection holds one change-version counter document per
// externalized collection, keyed by collection name.
const counterCollection = "externalize_counters"

// MongoDatastore implements Datastore over one database of a deployment.
type MongoDatastore struct {
	database *mongo.Database
}

// NewMongoDatastore returns a Datastore over the given database.
func NewMongoDatastore(database *mongo.Database) *MongoDatastore {
	return &MongoDatastore{database: database}
}

func (ds *MongoDatastore) Count(ctx context.Context, collection string) (int64, error) {
	total, err := ds.database.Collection(collection).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, errors.Wrapf(err, "error counting %v.%v", ds.database.Name(), collection)
	}
	return total, nil
}

func (ds *MongoDatastore) Pages(collection string, pageSize int) PageSequence {
	return db.NewCollectionPager(ds.database.Collection(collection), pageSize)
}

func (ds *MongoDatastore) FindHead(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	res := ds.database.Collection(collection + HeadSuffix).
		FindOne(ctx, bson.D{{Key: "_id", Value: id}})

	raw, err := res.Raw()
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading head of %v from %v%v", id, collection, HeadSuffix)
	}
	return raw, nil
}

func (ds *MongoDatastore) UpsertHead(ctx context.Context, collection string, id bson.RawValue, head bson.D) error {
	_, err := ds.database.Collection(collection+HeadSuffix).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		head,
		mopt.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "error upserting head of %v into %v%v", id, collection, HeadSuffix)
	}
	return nil
}

func (ds *MongoDatastore) ReplaceRecord(ctx context.Context, collection string, id bson.RawValue, head bson.D) error {
	_, err := ds.database.Collection(collection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		head,
		mopt.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "error replacing record %v of %v in place", id, collection)
	}
	return nil
}

// NextChangeVersion bumps the collection's counter document and returns the
// new value. The upsert makes the first call start the counter at 1.
func (ds *MongoDatastore) NextChangeVersion(ctx context.Context, collection string) (int64, error) {
	res := ds.database.Collection(counterCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: collection}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}},
		mopt.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(mopt.After))

	var counter struct {
		Value int64 `bson:"value"`
	}
	if err := res.Decode(&counter); err != nil {
		return 0, errors.Wrapf(err, "error incrementing change version of %v", collection)
	}
	return counter.Value, nil
}
