// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// storectl - operator tool for a timestore data directory
//
// dump the manifest, purge the whole store, or rebuild the manifest
// from the chunk files after corruption
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/logger"

	"github.com/veridian-net/veridiand/configuration"
	"github.com/veridian-net/veridiand/timestore"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

// Configuration - storectl Lua configuration file contents
type Configuration struct {
	Data_directory string
	Compress       bool
}

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	app := cli.NewApp()
	app.Name = "storectl"
	app.Usage = "maintain a timestore data directory"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "",
			Usage: " Lua configuration `FILE`",
		},
		cli.StringFlag{
			Name:  "data, d",
			Value: "",
			Usage: " data `DIRECTORY` (overrides the configuration file)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "dump",
			Usage:  "print manifest entries as bucket to chunk location",
			Action: runDump,
		},
		{
			Name:   "purge",
			Usage:  "remove all records and chunk files",
			Action: runPurge,
		},
		{
			Name:   "rebuild",
			Usage:  "discard the manifest and rebuild it by scanning chunk files",
			Action: runRebuild,
		},
	}

	err := app.Run(os.Args)
	if nil != err {
		exitwithstatus.Message("%s: error: %s", app.Name, err)
	}
}

// resolve the data directory from flags or the configuration file
func getConfiguration(c *cli.Context) (*Configuration, error) {
	config := &Configuration{}

	fileName := c.GlobalString("config")
	if "" != fileName {
		err := configuration.ParseConfigurationFile(fileName, config)
		if nil != err {
			return nil, err
		}
	}

	dataDirectory := c.GlobalString("data")
	if "" != dataDirectory {
		config.Data_directory = dataDirectory
	}
	if "" == config.Data_directory {
		return nil, fmt.Errorf("no data directory; use --data or --config")
	}
	return config, nil
}

// the store logs through the global logger, so one must exist
func setupLogger(dataDirectory string) error {
	return logger.Initialise(logger.Configuration{
		Directory: dataDirectory,
		File:      "storectl.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "error",
		},
	})
}

func openStore(config *Configuration) (*timestore.Store, error) {
	codec := timestore.PlainCodec()
	if config.Compress {
		codec = timestore.SnappyCodec()
	}
	store := timestore.New(codec, nil)
	err := store.Initialise(config.Data_directory)
	if nil != err {
		return nil, err
	}
	return store, nil
}

func runDump(c *cli.Context) error {
	config, err := getConfiguration(c)
	if nil != err {
		return err
	}

	count := 0
	err = timestore.DumpManifest(config.Data_directory, func(bucketNumber int64, l timestore.Location) error {
		compressed := " "
		if l.Compressed {
			compressed = "Z"
		}
		fmt.Printf("bucket: %8d  %s file: %06d  offset: %9d  length: %9d  records: %6d\n",
			bucketNumber, compressed, l.File, l.Offset, l.Length, l.Count)
		count += 1
		return nil
	})
	if nil != err {
		return err
	}
	fmt.Printf("%d chunk(s)\n", count)
	return nil
}

func runPurge(c *cli.Context) error {
	config, err := getConfiguration(c)
	if nil != err {
		return err
	}
	err = setupLogger(config.Data_directory)
	if nil != err {
		return err
	}
	defer logger.Finalise()

	store, err := openStore(config)
	if nil != err {
		return err
	}
	defer store.Finalise()

	err = store.RemoveAll()
	if nil != err {
		return err
	}
	fmt.Printf("reset store and removed chunk files\n")
	return nil
}

func runRebuild(c *cli.Context) error {
	config, err := getConfiguration(c)
	if nil != err {
		return err
	}
	err = setupLogger(config.Data_directory)
	if nil != err {
		return err
	}
	defer logger.Finalise()

	// drop the manifest; Initialise re-derives it from the chunk files
	err = os.RemoveAll(filepath.Join(config.Data_directory, timestore.ManifestName))
	if nil != err {
		return err
	}

	store, err := openStore(config)
	if nil != err {
		return err
	}
	err = store.Finalise()
	if nil != err {
		return err
	}
	fmt.Printf("manifest rebuilt\n")
	return nil
}
