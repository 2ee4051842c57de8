package main

// Example command that loads a few samples out of a set of webdataset
// shards and converts their outputs into gomlx tensors.
//
// Usage:
//
//	go run ./example -archives shard-000.tar,shard-001.tar \
//	    -indexes shard-000.idx,shard-001.idx -ext "jpg;jpeg" -ext cls
//
// Every archive needs its sidecar index file (generated alongside the
// archive); the example reads the first few samples of this worker's
// partition and prints what it found.

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/Noofbiz/tarBowl/webdataset"
)

// extFlags collects repeated -ext flags, one output group per occurrence.
type extFlags []string

func (e *extFlags) String() string     { return strings.Join(*e, ",") }
func (e *extFlags) Set(v string) error { *e = append(*e, v); return nil }

func main() {
	archives := flag.String("archives", "", "comma-separated archive shard paths")
	indexes := flag.String("indexes", "", "comma-separated index file paths, one per archive")
	count := flag.Int("n", 4, "number of samples to read")
	var exts extFlags
	flag.Var(&exts, "ext", "output extension group, e.g. \"jpg;jpeg\" (repeatable)")
	flag.Parse()

	if *archives == "" || *indexes == "" {
		log.Fatalf("both -archives and -indexes are required")
	}
	if len(exts) == 0 {
		exts = extFlags{"jpg;jpeg;png", "cls"}
	}

	loader, err := webdataset.New(webdataset.Config{
		Paths:      strings.Split(*archives, ","),
		IndexPaths: strings.Split(*indexes, ","),
		Extensions: exts,
	})
	if err != nil {
		log.Fatalf("failed to configure loader: %v", err)
	}
	if err := loader.PrepareMetadata(); err != nil {
		log.Fatalf("failed to prepare metadata: %v", err)
	}
	defer loader.Close()

	fmt.Printf("Loaded %d samples with %d outputs each\n", loader.Len(), loader.NumOutputs())

	ds := webdataset.NewDataset(loader)
	n := min(*count, loader.Len())
	for i := 0; i < n; i++ {
		_, inputs, _, err := ds.Yield()
		if err != nil {
			log.Fatalf("failed to read sample %d: %v", i, err)
		}
		fmt.Printf("sample %d:\n", i)
		for j, in := range inputs {
			fmt.Printf("  output %d (%s): tensor %T\n", j, exts[j], in)
		}
	}
}
