package main

import (
	"OFSniff/internal/logparse"
	"OFSniff/internal/pkg/logging"
	"flag"
	"fmt"
	"os"
)

var log = logging.For("logparse")

func main() {
	outDir := flag.String("out", ".", "Directory for the per-series CSV files.")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Println("Usage: ofsniff-logparse [-out dir] <stats.log>...")
		os.Exit(1)
	}

	failed := false
	for _, path := range flag.Args() {
		res, err := logparse.SplitFile(path, *outDir)
		if err != nil {
			log.Errorf("Failed to split %s: %v", path, err)
			failed = true
			continue
		}
		log.Infof("%s: %d lines into %d file(s), %d skipped", path, res.Lines, len(res.Files), res.Skipped)
	}
	if failed {
		os.Exit(1)
	}
}
