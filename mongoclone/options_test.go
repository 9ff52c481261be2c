// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongoclone

import (
	"testing"

	"github.com/mongoclone/mongoclone/common/testtype"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseOptions(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	Convey("With a set of command line arguments", t, func() {
		Convey("a plain copy needs a source and a destination", func() {
			opts, err := ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst",
			}, "", "")
			So(err, ShouldBeNil)
			So(opts.Source.URI, ShouldEqual, "mongodb://src")
			So(opts.Destination.URI, ShouldEqual, "mongodb://dst")
			So(opts.BatchSize, ShouldEqual, 50)
		})

		Convey("a missing source is an error", func() {
			_, err := ParseOptions([]string{"--destination", "mongodb://dst"}, "", "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "source")
		})

		Convey("a missing destination is an error outside externalization", func() {
			_, err := ParseOptions([]string{"--source", "mongodb://src"}, "", "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "destination")
		})

		Convey("positional arguments are rejected", func() {
			_, err := ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst", "stray",
			}, "", "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "positional")
		})

		Convey("batch size and index sync flags parse", func() {
			opts, err := ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst",
				"--batchSize", "200", "--noIndexSync",
			}, "", "")
			So(err, ShouldBeNil)
			So(opts.BatchSize, ShouldEqual, 200)
			So(opts.NoIndexSync, ShouldBeTrue)
		})

		Convey("bookkeeping namespaces cannot be selected explicitly", func() {
			_, err := ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst",
				"-c", "users_head",
			}, "", "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "reserved")

			_, err = ParseOptions([]string{
				"--source", "mongodb://src", "--externalize", "--bucket", "b",
				"-d", "app", "-c", "externalize_counters",
			}, "", "")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "reserved")
		})

		Convey("databases and collections are repeatable", func() {
			opts, err := ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst",
				"-d", "first", "-d", "second", "-c", "users",
			}, "", "")
			So(err, ShouldBeNil)
			So(opts.Namespace.DBs, ShouldResemble, []string{"first", "second"})
			So(opts.Namespace.Collections, ShouldResemble, []string{"users"})
		})

		Convey("externalization mode", func() {
			Convey("requires a bucket", func() {
				_, err := ParseOptions([]string{
					"--source", "mongodb://src", "--externalize", "-d", "app",
				}, "", "")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "bucket")
			})

			Convey("requires exactly one database", func() {
				_, err := ParseOptions([]string{
					"--source", "mongodb://src", "--externalize", "--bucket", "b",
				}, "", "")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "exactly one database")

				_, err = ParseOptions([]string{
					"--source", "mongodb://src", "--externalize", "--bucket", "b",
					"-d", "one", "-d", "two",
				}, "", "")
				So(err, ShouldNotBeNil)
			})

			Convey("needs no destination", func() {
				opts, err := ParseOptions([]string{
					"--source", "mongodb://src", "--externalize", "--bucket", "b",
					"-d", "app", "--resume",
				}, "", "")
				So(err, ShouldBeNil)
				So(opts.Externalize, ShouldBeTrue)
				So(opts.Resume, ShouldBeTrue)
				So(opts.Region, ShouldEqual, "us-east-1")
			})
		})

		Convey("resume and validate outside externalization are errors", func() {
			_, err := ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst", "--resume",
			}, "", "")
			So(err, ShouldNotBeNil)

			_, err = ParseOptions([]string{
				"--source", "mongodb://src", "--destination", "mongodb://dst", "--validate",
			}, "", "")
			So(err, ShouldNotBeNil)
		})
	})
}
