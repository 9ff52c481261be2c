// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongoclone copies databases between two MongoDB deployments a
// bounded page at a time, surviving the flaky sockets of managed targets.
package mongoclone

import (
	"context"
	"fmt"

	"github.com/mongoclone/mongoclone/common/db"
	"github.com/mongoclone/mongoclone/common/log"
	"github.com/mongoclone/mongoclone/common/options"
	"github.com/mongoclone/mongoclone/common/progress"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// sourceCatalog is the slice of the source deployment the orchestrator
// enumerates. Tests substitute fakes.
type sourceCatalog interface {
	DatabaseNames(ctx context.Context) ([]string, error)
	CollectionSpecs(ctx context.Context, database string) ([]*mongo.CollectionSpecification, error)
}

// destCatalog is the slice of the destination the orchestrator inspects
// and mutates. Tests substitute fakes to verify what a run touched.
type destCatalog interface {
	DatabaseNames(ctx context.Context) ([]string, error)
	CollectionNames(ctx context.Context, database string) ([]string, error)
	DropDatabase(ctx context.Context, database string) error
	CreateCollection(ctx context.Context, database string, cmd bson.D) error
}

// providerCatalog adapts a SessionProvider to both catalog interfaces.
type providerCatalog struct {
	provider *db.SessionProvider
}

func (c *providerCatalog) DatabaseNames(ctx context.Context) ([]string, error) {
	return c.provider.DatabaseNames(ctx)
}

func (c *providerCatalog) CollectionSpecs(ctx context.Context, database string) ([]*mongo.CollectionSpecification, error) {
	return c.provider.DB(database).ListCollectionSpecifications(ctx, bson.D{})
}

func (c *providerCatalog) CollectionNames(ctx context.Context, database string) ([]string, error) {
	return c.provider.DB(database).ListCollectionNames(ctx, bson.D{})
}

func (c *providerCatalog) DropDatabase(ctx context.Context, database string) error {
	return c.provider.DB(database).Drop(ctx)
}

func (c *providerCatalog) CreateCollection(ctx context.Context, database string, cmd bson.D) error {
	return c.provider.DB(database).RunCommand(ctx, cmd).Err()
}

// MongoClone is a container for the user-specified options and internal
// state used for running a copy.
type MongoClone struct {
	// generic mongo tool options
	ToolOptions *options.ToolOptions

	// CopyOptions defines how pages are read and written
	CopyOptions *CopyOptions

	// ExternalizeOptions is carried for mode dispatch in main; the copy
	// path never consults it
	ExternalizeOptions *ExternalizeOptions

	// SourceProvider and DestProvider hold the two connections
	SourceProvider *db.SessionProvider
	DestProvider   *db.SessionProvider

	// ProgressManager renders per-database and per-collection progress bars
	ProgressManager progress.Manager

	// ResolveConflict is consulted once per destination database that
	// already exists, before any write begins
	ResolveConflict DecisionFunc

	// catalog views of the two deployments, backed by the providers;
	// swapped by tests
	source sourceCatalog
	dest   destCatalog

	// copyData streams one collection's documents and replays its indexes;
	// swapped by tests
	copyData func(ctx context.Context, dbName, collName string, dbWatch *progress.Counter) error

	// running totals across the whole run
	copiedDocs  int64
	copiedColls int
}

// New constructs a MongoClone from the parsed options and connects both
// deployments.
func New(ctx context.Context, opts Options) (*MongoClone, error) {
	mc := &MongoClone{
		ToolOptions:        opts.ToolOptions,
		CopyOptions:        opts.CopyOptions,
		ExternalizeOptions: opts.ExternalizeOptions,
	}

	source, err := db.NewSessionProvider(ctx, opts.Source.URI, opts.AppName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to source: %v", err)
	}
	mc.SourceProvider = source
	mc.source = &providerCatalog{provider: source}

	if opts.Destination.URI != "" {
		dest, err := db.NewSessionProvider(ctx, opts.Destination.URI, opts.AppName)
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("error connecting to destination: %v", err)
		}
		mc.DestProvider = dest
		mc.dest = &providerCatalog{provider: dest}
	}

	mc.copyData = mc.copyCollectionData
	return mc, nil
}

// Close disconnects both deployments.
func (mc *MongoClone) Close() {
	if mc.SourceProvider != nil {
		mc.SourceProvider.Close()
	}
	if mc.DestProvider != nil {
		mc.DestProvider.Close()
	}
}

// selectDatabases returns the databases this run operates on, in a stable
// order: the repeatable -d flags verbatim, or every user database at the
// source when none were given.
func (mc *MongoClone) selectDatabases(ctx context.Context) ([]string, error) {
	if len(mc.ToolOptions.Namespace.DBs) > 0 {
		return mc.ToolOptions.Namespace.DBs, nil
	}
	names, err := mc.source.DatabaseNames(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error listing source databases")
	}
	return names, nil
}

// Run copies the selected databases from the source to the destination.
// Conflicts with pre-existing destination databases are all resolved up
// front; an abort answer leaves the destination untouched.
func (mc *MongoClone) Run(ctx context.Context) error {
	selected, err := mc.selectDatabases(ctx)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		log.Logvf(log.Always, "source has no databases to copy")
		return nil
	}

	existing, err := mc.dest.DatabaseNames(ctx)
	if err != nil {
		return errors.Wrap(err, "error listing destination databases")
	}

	decisions, err := ResolveConflicts(selected, existing, mc.ResolveConflict)
	if err != nil {
		return err
	}

	for _, dbName := range selected {
		decision, conflicted := decisions[dbName]
		if conflicted && decision == DecisionSkip {
			log.Logvf(log.Always, "skipping database %v: already exists at destination", dbName)
			continue
		}
		if conflicted && decision == DecisionOverwrite {
			log.Logvf(log.Always, "dropping destination database %v before copy", dbName)
			if err := mc.dest.DropDatabase(ctx, dbName); err != nil && !db.IsNamespaceNotFound(err) {
				return errors.Wrapf(err, "error dropping destination database %v", dbName)
			}
		}
		if err := mc.copyDatabase(ctx, dbName); err != nil {
			return err
		}
	}

	log.Logvf(log.Always, "copied %v %v (%v %v) in total",
		mc.copiedColls, util.Pluralize(mc.copiedColls, "collection", "collections"),
		mc.copiedDocs, util.Pluralize(int(mc.copiedDocs), "document", "documents"))
	return nil
}

// copyDatabase copies every selected collection of one database, tracking
// database-level progress as collections complete.
func (mc *MongoClone) copyDatabase(ctx context.Context, dbName string) error {
	specs, err := mc.source.CollectionSpecs(ctx, dbName)
	if err != nil {
		return errors.Wrapf(err, "error listing collections of %v", dbName)
	}

	destColls, err := mc.dest.CollectionNames(ctx, dbName)
	if err != nil {
		return errors.Wrapf(err, "error listing destination collections of %v", dbName)
	}
	destHas := make(map[string]bool, len(destColls))
	for _, name := range destColls {
		destHas[name] = true
	}

	var toCopy []*mongo.CollectionSpecification
	for _, spec := range specs {
		if !mc.collectionSelected(spec.Name) {
			continue
		}
		if spec.Type != "collection" {
			log.Logvf(log.Info, "skipping %v.%v: %v namespaces are not copied", dbName, spec.Name, spec.Type)
			continue
		}
		if destHas[spec.Name] {
			log.Logvf(log.Info, "skipping %v.%v: collection already exists at destination", dbName, spec.Name)
			continue
		}
		toCopy = append(toCopy, spec)
	}

	log.Logvf(log.Info, "copying database %v (%v %v)",
		dbName, len(toCopy), util.Pluralize(len(toCopy), "collection", "collections"))

	dbWatch := progress.NewCounter(int64(len(toCopy)))
	if mc.ProgressManager != nil {
		mc.ProgressManager.Attach(dbName, dbWatch)
		defer mc.ProgressManager.Detach(dbName)
	}

	for _, spec := range toCopy {
		if err := mc.createCollection(ctx, dbName, spec); err != nil {
			return err
		}
		if err := mc.copyData(ctx, dbName, spec.Name, dbWatch); err != nil {
			return err
		}
		mc.copiedColls++

		dbWatch.Inc(1)
		done, totalColls := dbWatch.Progress()
		log.Logvf(log.Info, "database %v: %v of %v collections copied (%v)",
			dbName, done, totalColls, util.PercentComplete(done, totalColls))
	}
	return nil
}

// collectionSelected reports whether the repeatable -c flags admit the
// named collection. No flags admit everything.
func (mc *MongoClone) collectionSelected(name string) bool {
	if len(mc.ToolOptions.Namespace.Collections) == 0 {
		return true
	}
	return lo.Contains(mc.ToolOptions.Namespace.Collections, name)
}

// copyCollectionData streams the source collection's documents through the
// retrying writer one page at a time, then replays its secondary indexes.
func (mc *MongoClone) copyCollectionData(ctx context.Context, dbName, collName string, dbWatch *progress.Counter) error {
	ns := fmt.Sprintf("%v.%v", dbName, collName)
	sourceColl := mc.SourceProvider.DB(dbName).Collection(collName)
	destDB := mc.DestProvider.DB(dbName)

	total, err := sourceColl.EstimatedDocumentCount(ctx)
	if err != nil {
		return errors.Wrapf(err, "error counting %v", ns)
	}

	watch := progress.NewCounter(total)
	if mc.ProgressManager != nil {
		mc.ProgressManager.Attach(ns, watch)
		defer mc.ProgressManager.Detach(ns)
	}

	pager := db.NewCollectionPager(sourceColl, mc.CopyOptions.BatchSize)
	writer := db.NewRetryingWriter(
		db.NewCollectionWriter(mc.DestProvider, destDB.Collection(collName), mc.CopyOptions.BypassDocumentValidation),
		ns)

	var copied int64
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return errors.Wrapf(err, "error reading %v", ns)
		}
		if page == nil {
			break
		}

		for _, doc := range page {
			if err := db.CheckOversizedDocument(doc); err != nil {
				return errors.Wrapf(err, "error copying %v", ns)
			}
		}

		docs := lo.Map(page, func(doc bson.Raw, _ int) interface{} { return doc })
		committed, err := writer.WriteBatch(ctx, docs)
		copied += int64(committed)
		watch.Set(copied)
		if err != nil {
			return err
		}

		if log.IsInVerbosity(log.DebugLow) {
			done, totalColls := dbWatch.Progress()
			log.Logvf(log.DebugLow, "%v: %v of %v documents (%v); database %v: %v of %v collections (%v)",
				ns, copied, total, util.PercentComplete(copied, total),
				dbName, done, totalColls, util.PercentComplete(done, totalColls))
		}
	}

	log.Logvf(log.Always, "copied %v %v to %v",
		copied, util.Pluralize(int(copied), "document", "documents"), ns)
	mc.copiedDocs += copied

	if !mc.CopyOptions.NoIndexSync {
		if _, err := SyncIndexes(ctx, sourceColl, destDB, collName); err != nil {
			return err
		}
	}
	return nil
}

// createCollection recreates the source collection at the destination with
// its original creation options. Options the destination rejects are not
// worth failing the copy for: the collection falls back to an implicit
// default create.
func (mc *MongoClone) createCollection(ctx context.Context, dbName string, spec *mongo.CollectionSpecification) error {
	cmd, err := createCommand(spec.Name, spec.Options)
	if err != nil {
		return errors.Wrapf(err, "error reading creation options of %v", spec.Name)
	}

	err = mc.dest.CreateCollection(ctx, dbName, cmd)
	if err == nil || db.IsNamespaceExists(err) {
		return nil
	}
	log.Logvf(log.Always, "warning: couldn't create %v.%v with source options, using defaults: %v",
		dbName, spec.Name, err)

	err = mc.dest.CreateCollection(ctx, dbName, bson.D{{Key: "create", Value: spec.Name}})
	if err != nil && !db.IsNamespaceExists(err) {
		return errors.Wrapf(err, "error creating %v.%v", dbName, spec.Name)
	}
	return nil
}

// createCommand renders a create command carrying the source collection's
// creation options, minus fields the create command does not accept.
func createCommand(name string, rawOptions bson.Raw) (bson.D, error) {
	cmd := bson.D{{Key: "create", Value: name}}
	if len(rawOptions) == 0 {
		return cmd, nil
	}

	var opts bson.D
	if err := bson.Unmarshal(rawOptions, &opts); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if !keepCreateOption(opt) {
			continue
		}
		cmd = append(cmd, opt)
	}
	return cmd, nil
}

// keepCreateOption filters listCollections output down to what create
// accepts. The listing carries server bookkeeping (uuid and friends) and
// may carry explicit nulls, neither of which replay.
func keepCreateOption(opt bson.E) bool {
	switch opt.Key {
	case "create", "uuid", "info", "idIndex", "readOnly", "ns":
		return false
	}
	if opt.Value == nil {
		return false
	}
	if _, isNull := opt.Value.(primitive.Null); isNull {
		return false
	}
	return true
}
