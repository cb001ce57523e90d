// SPDX-License-Identifier: MIT

// Command gvrsbuild ingests gridded samples from a text stream and
// builds a gvrs raster store. Input lines hold "row col value"
// triples in any order; the tool sorts them by tile externally, so
// rasters far larger than memory build with a tiny tile cache. The
// result can optionally be uploaded to S3-compatible object storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/cartogrid/gvrs"
)

var logger *log.Logger

func main() {
	ctx := context.Background()

	input := flag.String("input", "", "path to input samples; .gz/.bz2/.xz/.br/.zst are decompressed")
	output := flag.String("output", "out.gvrs", "path to the gvrs file being written")
	rows := flag.Int("rows", 0, "number of rows in the raster")
	cols := flag.Int("cols", 0, "number of columns in the raster")
	tileRows := flag.Int("tile-rows", 120, "number of rows per tile")
	tileCols := flag.Int("tile-cols", 120, "number of columns per tile")
	element := flag.String("element", "z", "name of the raster element")
	compress := flag.Bool("compress", true, "store tiles compressed")
	checksums := flag.Bool("checksums", true, "store CRC-32C checksums")
	storagekey := flag.String("storage-key", "", "path to key with storage access credentials")
	bucket := flag.String("bucket", "rasters", "storage bucket for uploads")
	remotepath := flag.String("remote-path", "", "remote object path; empty disables upload")
	flag.Parse()

	logfile, err := createLogFile()
	if err != nil {
		log.Fatal(err)
	}
	defer logfile.Close()
	logger = log.New(logfile, "", log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)

	if *rows < 1 || *cols < 1 {
		logger.Fatal("flags -rows and -cols are required")
	}

	spec, err := gvrs.NewFileSpec(*rows, *cols, *tileRows, *tileCols)
	if err != nil {
		logger.Fatal(err)
	}
	spec.ChecksumEnabled = *checksums
	if *compress {
		spec.EnableCompression()
	}
	if err := spec.AddElement(gvrs.NewFloatElement(*element, -1e9, 1e9, float32(math.NaN()))); err != nil {
		logger.Fatal(err)
	}

	if err := build(ctx, *input, *output, spec, *element); err != nil {
		logger.Fatal(err)
	}
	msg := fmt.Sprintf("Built %s", *output)
	fmt.Println(msg)
	logger.Println(msg)

	if *storagekey != "" && *remotepath != "" {
		storage, err := NewStorage(*storagekey)
		if err != nil {
			logger.Fatal(err)
		}
		if err := storage.PutFile(ctx, *bucket, *remotepath, *output, "application/octet-stream"); err != nil {
			logger.Fatal(err)
		}
		msg := fmt.Sprintf("Uploaded to storage: %s/%s", *bucket, *remotepath)
		fmt.Println(msg)
		logger.Println(msg)
		if err := Cleanup(storage, *bucket, *remotepath); err != nil {
			logger.Fatal(err)
		}
	}
}

// Create a file for keeping logs. If the file already exists, its
// present content is preserved, and new log entries will get appended
// after the existing ones.
func createLogFile() (*os.File, error) {
	logpath := filepath.Join("logs", "gvrsbuild.log")
	if err := os.MkdirAll("logs", os.ModePerm); err != nil {
		return nil, err
	}
	return os.OpenFile(logpath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
