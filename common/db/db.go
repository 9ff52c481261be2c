// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package db implements the database-facing primitives of the migration
// tools: connection management, fault classification, paginated reads and
// fault-tolerant batch writes.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB enforced limits.
const (
	MaxBSONSize = 16 * 1024 * 1024 // 16MB - maximum BSON document size
)

// CheckOversizedDocument rejects documents the destination server would
// refuse outright, before they waste a round trip.
func CheckOversizedDocument(doc bson.Raw) error {
	if len(doc) > MaxBSONSize {
		return errors.Errorf("document of %v bytes exceeds the maximum BSON document size of %v bytes",
			len(doc), MaxBSONSize)
	}
	return nil
}

const connectTimeout = 10 * time.Second

// internal databases never copied between deployments
var internalDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// SessionProvider manages a connected client for one deployment.
type SessionProvider struct {
	sync.Mutex

	// the master client used for operations
	client *mongo.Client
}

// NewSessionProvider constructs a session provider, including a connected
// and pinged client.
func NewSessionProvider(ctx context.Context, uri, appName string) (*SessionProvider, error) {
	clientopt := mopt.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetConnectTimeout(connectTimeout).
		SetCompressors([]string{"snappy"}).
		// the tools run their own bounded retry loops; the driver's
		// transparent retries would hide the failures they classify
		SetRetryWrites(false).
		SetRetryReads(false)

	client, err := mongo.Connect(ctx, clientopt)
	if err != nil {
		return nil, fmt.Errorf("error configuring the connector: %v", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("could not connect to server: %v", err)
	}

	return &SessionProvider{client: client}, nil
}

// GetSession returns the managed client.
func (sp *SessionProvider) GetSession() (*mongo.Client, error) {
	sp.Lock()
	defer sp.Unlock()

	if sp.client == nil {
		return nil, errors.New("SessionProvider already closed")
	}

	return sp.client, nil
}

// DB provides a database handle with the default read preference.
func (sp *SessionProvider) DB(name string) *mongo.Database {
	return sp.client.Database(name)
}

// Ping issues a lightweight liveness command against the deployment.
func (sp *SessionProvider) Ping(ctx context.Context) error {
	sp.Lock()
	client := sp.client
	sp.Unlock()
	if client == nil {
		return errors.New("SessionProvider already closed")
	}
	return client.Ping(ctx, readpref.Primary())
}

// DatabaseNames lists the user databases of the deployment, excluding the
// server-internal ones.
func (sp *SessionProvider) DatabaseNames(ctx context.Context) ([]string, error) {
	client, err := sp.GetSession()
	if err != nil {
		return nil, err
	}

	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}

	var userDBs []string
	for _, name := range names {
		if !internalDatabases[name] {
			userDBs = append(userDBs, name)
		}
	}
	return userDBs, nil
}

// Close closes the master session in the connection pool.
func (sp *SessionProvider) Close() {
	sp.Lock()
	defer sp.Unlock()
	if sp.client != nil {
		_ = sp.client.Disconnect(context.Background())
		sp.client = nil
	}
}
