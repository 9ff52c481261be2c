// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package externalize

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.mongodb.org/mongo-driver/mongo"
)

// S3BlobStore implements BlobStore over an S3 (or S3-compatible) endpoint.
type S3BlobStore struct {
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3BlobStore resolves credentials from the standard SDK chain and
// returns a store bound to the given region.
func NewS3BlobStore(ctx context.Context, region string) (*S3BlobStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3BlobStore{
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (bs *S3BlobStore) PutJSON(ctx context.Context, bucket, key string, payload []byte) error {
	_, err := bs.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/json"),
		Body:        bytes.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %v: %w", key, err)
	}
	return nil
}

func (bs *S3BlobStore) GetJSON(ctx context.Context, bucket, key string) ([]byte, error) {
	buff := &manager.WriteAtBuffer{}
	_, err := bs.downloader.Download(ctx, buff, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %v: %w", key, err)
	}
	return buff.Bytes(), nil
}

// S3Router is the production Router: records live in one MongoDB database,
// bodies land in one S3 bucket.
type S3Router struct {
	client    *mongo.Client
	datastore *MongoDatastore
	blobStore *S3BlobStore
	bucket    string
}

// NewS3Router wires a source database to a bucket in the given region.
func NewS3Router(ctx context.Context, client *mongo.Client, database, bucket, region string) (*S3Router, error) {
	blobStore, err := NewS3BlobStore(ctx, region)
	if err != nil {
		return nil, err
	}
	return &S3Router{
		client:    client,
		datastore: NewMongoDatastore(client.Database(database)),
		blobStore: blobStore,
		bucket:    bucket,
	}, nil
}

func (r *S3Router) Route(database, collection string) Route {
	return Route{Database: database, Collection: collection}
}

func (r *S3Router) Client(Route) Datastore {
	return r.datastore
}

func (r *S3Router) Storage(context.Context) (BlobStore, string, error) {
	return r.blobStore, r.bucket, nil
}

func (r *S3Router) DeriveKey(collection, id string, revision int) string {
	return DeriveKey(collection, id, revision)
}

func (r *S3Router) NextChangeVersion(ctx context.Context, collection string) (int64, error) {
	return r.datastore.NextChangeVersion(ctx, collection)
}

// Shutdown is a no-op: the mongo client is owned by the caller's session
// provider and the SDK clients hold no connections worth closing.
func (r *S3Router) Shutdown() {}
