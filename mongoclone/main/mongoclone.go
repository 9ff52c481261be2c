// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Main package for the mongoclone tool.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mongoclone/mongoclone/common/log"
	"github.com/mongoclone/mongoclone/common/progress"
	"github.com/mongoclone/mongoclone/common/util"
	"github.com/mongoclone/mongoclone/externalize"
	"github.com/mongoclone/mongoclone/mongoclone"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	progressBarLength   = 24
	progressBarWaitTime = time.Second * 3
)

var (
	VersionStr = "built-without-version-string"
	GitCommit  = "build-without-git-commit"
)

func main() {
	// initialize command-line opts
	opts, err := mongoclone.ParseOptions(os.Args[1:], VersionStr, GitCommit)
	if err != nil {
		log.Logvf(log.Always, "error parsing command line options: %s", err.Error())
		log.Logvf(log.Always, util.ShortUsage("mongoclone"))
		os.Exit(util.ExitFailure)
	}

	// print help, if specified
	if opts.PrintHelp(false) {
		return
	}

	// print version, if specified
	if opts.PrintVersion() {
		return
	}

	// init logger
	log.SetVerbosity(opts.Verbosity)

	// kick off the progress bar manager
	progressManager := progress.NewBarWriter(
		log.Writer(0),
		progressBarWaitTime,
		progressBarLength,
		false,
	)
	progressManager.Start()
	defer progressManager.Stop()

	ctx := context.Background()

	if opts.Externalize {
		if err := runExternalize(ctx, opts, progressManager); err != nil {
			log.Logvf(log.Always, "Failed: %v", err)
			os.Exit(util.ExitFailure)
		}
		return
	}

	if err := runCopy(ctx, opts, progressManager); err != nil {
		if errors.Is(err, util.ErrTerminated) {
			// a deliberate abort is not a failure worth alarming about
			log.Logvf(log.Always, "%v", err)
			os.Exit(util.ExitFailure)
		}
		log.Logvf(log.Always, "Failed: %v", err)
		os.Exit(util.ExitFailure)
	}
}

func runCopy(ctx context.Context, opts mongoclone.Options, progressManager progress.Manager) error {
	clone, err := mongoclone.New(ctx, opts)
	if err != nil {
		return err
	}
	defer clone.Close()

	clone.ProgressManager = progressManager
	clone.ResolveConflict = promptForDecision

	return clone.Run(ctx)
}

func runExternalize(ctx context.Context, opts mongoclone.Options, progressManager progress.Manager) error {
	clone, err := mongoclone.New(ctx, opts)
	if err != nil {
		return err
	}
	defer clone.Close()

	client, err := clone.SourceProvider.GetSession()
	if err != nil {
		return err
	}

	database := opts.Namespace.DBs[0]
	router, err := externalize.NewS3Router(ctx, client, database, opts.Bucket, opts.Region)
	if err != nil {
		return err
	}
	defer router.Shutdown()

	migrator := &externalize.Migrator{
		Router:          router,
		Database:        database,
		PageSize:        opts.BatchSize,
		Resume:          opts.Resume,
		ProgressManager: progressManager,
	}

	collections := opts.Namespace.Collections
	if len(collections) == 0 {
		names, err := clone.SourceProvider.DB(database).ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return err
		}
		for _, name := range names {
			if !externalize.IsInternalNamespace(name) {
				collections = append(collections, name)
			}
		}
	}

	for _, collection := range collections {
		if _, err := migrator.MigrateCollection(ctx, collection); err != nil {
			return err
		}
		if opts.Validate {
			if _, _, err := migrator.Validate(ctx, collection); err != nil {
				return err
			}
		}
	}
	return nil
}

// promptForDecision asks the operator what to do about a destination
// database that already exists, retrying until the answer parses.
func promptForDecision(dbName string) (mongoclone.Decision, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("database %q already exists at the destination: [o]verwrite, [s]kip, or [a]bort? ", dbName)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("error reading conflict answer: %v", err)
		}
		decision, err := mongoclone.ParseDecision(answer)
		if err != nil {
			fmt.Println(err)
			continue
		}
		return decision, nil
	}
}
