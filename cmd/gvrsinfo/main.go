// SPDX-License-Identifier: MIT

// Command gvrsinfo prints the structure of a gvrs raster store: the
// header fields, the specification, metadata, and free-space
// statistics; the tile directory is not reported. With -scan it also
// walks every record and verifies checksums.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cartogrid/gvrs"
)

func main() {
	scan := flag.Bool("scan", false, "walk all records and verify checksums")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: gvrsinfo [-scan] file.gvrs\n")
		os.Exit(2)
	}

	f, err := gvrs.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	printSummary(f)
	if *scan {
		printScan(f)
	}
}

func printSummary(f *gvrs.File) {
	spec := f.Spec()
	fmt.Printf("file:            %s\n", flag.Arg(0))
	fmt.Printf("uuid:            %s\n", f.UUID())
	fmt.Printf("last modified:   %s\n", f.TimeLastModified().UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("raster:          %d rows x %d columns\n", spec.RowsInRaster, spec.ColsInRaster)
	fmt.Printf("tiling:          %d x %d tiles of %d x %d cells\n",
		spec.RowsOfTiles, spec.ColsOfTiles, spec.RowsInTile, spec.ColsInTile)
	fmt.Printf("checksums:       %v\n", spec.ChecksumEnabled)
	fmt.Printf("compression:     %v", spec.CompressionEnabled())
	if spec.CompressionEnabled() {
		fmt.Printf(" (")
		for i, id := range spec.CodecIDs {
			if i > 0 {
				fmt.Printf(", ")
			}
			fmt.Printf("%s", id)
		}
		fmt.Printf(")")
	}
	fmt.Println()
	if spec.ProductLabel != "" {
		fmt.Printf("product:         %s\n", spec.ProductLabel)
	}

	fmt.Printf("elements:\n")
	for _, e := range f.Elements() {
		s := e.Spec()
		fmt.Printf("  %-20s %s", s.Name, s.Type)
		if s.UnitOfMeasure != "" {
			fmt.Printf(" [%s]", s.UnitOfMeasure)
		}
		if s.Description != "" {
			fmt.Printf("  %s", s.Description)
		}
		fmt.Println()
	}

	if keys := f.MetadataKeys(); len(keys) > 0 {
		fmt.Printf("metadata:\n")
		for _, key := range keys {
			fmt.Printf("  %s\n", key)
		}
	}

	free := f.FreeSpace()
	fmt.Printf("free space:      %d blocks, %d bytes (largest %d)\n",
		free.Nodes, free.TotalBytes, free.LargestBlock)
}

func printScan(f *gvrs.File) {
	report, err := f.Inspect()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("records:         %d tile, %d metadata, %d freespace, %d directory\n",
		report.TileRecords, report.MetadataRecords, report.FreespaceRecords, report.DirectoryRecords)
	if f.Spec().ChecksumEnabled {
		fmt.Printf("checksum errors: %d\n", report.ChecksumFailures)
		for _, rec := range report.Records {
			if !rec.ChecksumOK {
				fmt.Printf("  bad %s record at %d (%d bytes)\n", rec.Type, rec.Position, rec.Size)
			}
		}
		if report.Terminated {
			fmt.Printf("  scan terminated after two consecutive failures\n")
		}
	}
}
