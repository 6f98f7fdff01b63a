// signals-check parses a signal feed file and prints what a backtest would
// see: how many signals paired up, what was dropped, and the covered range.
//
// Usage:
//
//	go run cmd/signals-check/main.go data/signals.csv
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/internal/signal"
)

func main() {
	verbose := flag.Bool("v", false, "print every parsed signal")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: signals-check [-v] <feed-file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	res, err := signal.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parsing %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("file:            %s\n", path)
	fmt.Printf("signals:         %d\n", len(res.Signals))
	fmt.Printf("malformed rows:  %d\n", res.MalformedRows)
	fmt.Printf("unpaired opens:  %d\n", res.UnpairedOpens)
	fmt.Printf("orphan closes:   %d\n", res.OrphanCloses)

	if len(res.Signals) > 0 {
		first := res.Signals[0].Timestamp
		last := res.Signals[len(res.Signals)-1].Timestamp
		fmt.Printf("range:           %s .. %s (%s)\n",
			first.Format(time.RFC3339), last.Format(time.RFC3339),
			last.Sub(first).Round(time.Minute))

		var buys, sells int
		for _, s := range res.Signals {
			if s.Side == domain.SideBuy {
				buys++
			} else {
				sells++
			}
		}
		fmt.Printf("sides:           %d BUY / %d SELL\n", buys, sells)
	}

	if *verbose {
		fmt.Println()
		for _, s := range res.Signals {
			closeAt := "open"
			if s.CloseTimestamp != nil {
				closeAt = s.CloseTimestamp.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-4s  %.2f  %s -> %s\n",
				s.ID, s.Side, s.EntryPrice, s.Timestamp.Format(time.RFC3339), closeAt)
		}
	}
}
