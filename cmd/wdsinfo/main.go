package main

// wdsinfo inspects webdataset sidecar index files without touching the
// archives themselves: it prints per-shard sample/component statistics and
// can render a histogram of component sizes to a PNG.
//
// Usage:
//
//	wdsinfo -plot sizes.png shard-000.idx shard-001.idx ...

import (
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/Noofbiz/tarBowl/webdataset"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func main() {
	plotPath := flag.String("plot", "", "write a histogram of component sizes to this PNG file")
	bins := flag.Int("bins", 32, "number of histogram bins")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatalf("usage: wdsinfo [-plot out.png] <index file> ...")
	}

	extBytes := make(map[string]int64)
	extCount := make(map[string]int64)
	var sizes plotter.Values
	totalSamples := 0

	for _, indexPath := range flag.Args() {
		samples, components, err := webdataset.ParseIndexFile(indexPath)
		if err != nil {
			log.Fatalf("failed to parse %s: %v", indexPath, err)
		}

		var shardBytes int64
		for _, c := range components {
			extBytes[c.Ext] += c.Size
			extCount[c.Ext]++
			shardBytes += c.Size
			sizes = append(sizes, float64(c.Size))
		}
		totalSamples += len(samples)

		fmt.Printf("%s: %d samples, %d components, %d payload bytes\n",
			indexPath, len(samples), len(components), shardBytes)
	}

	fmt.Printf("\ntotal: %d samples across %d index files\n", totalSamples, flag.NArg())

	exts := make([]string, 0, len(extCount))
	for ext := range extCount {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Printf("  .%-8s %8d components %12d bytes\n", ext, extCount[ext], extBytes[ext])
	}

	if *plotPath != "" {
		if err := plotSizes(sizes, *bins, *plotPath); err != nil {
			log.Fatalf("failed to plot component sizes: %v", err)
		}
		fmt.Printf("\nwrote component size histogram to %s\n", *plotPath)
	}
}

// plotSizes writes a PNG histogram of the component sizes.
func plotSizes(sizes plotter.Values, bins int, outPath string) error {
	p := plot.New()
	p.Title.Text = "Component sizes"
	p.X.Label.Text = "bytes"
	p.Y.Label.Text = "components"

	hist, err := plotter.NewHist(sizes, bins)
	if err != nil {
		return err
	}
	p.Add(hist)
	p.Add(plotter.NewGrid())

	return p.Save(8*vg.Inch, 6*vg.Inch, outPath)
}
