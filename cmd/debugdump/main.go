// debugdump prints the raw state of a repository: the channel log and
// the stored graph rows. Debugging aid, not part of the public API.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/und3fined/pijul/pkg/logging"
	"github.com/und3fined/pijul/pkg/pristine"
)

func main() {
	var (
		path    = flag.String("path", ".", "repository root")
		channel = flag.String("channel", "main", "channel to dump")
	)
	flag.Parse()

	p, err := pristine.Open(pristine.Config{
		Path:   *path + "/.pijul/pristine",
		Logger: logging.Discard(),
	})
	if err != nil {
		log.Fatalf("failed to open pristine: %s", err)
	}
	defer p.Close()

	err = p.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(*channel)
		if err != nil {
			return err
		}

		entries, err := txn.Log(ch)
		if err != nil {
			return err
		}
		fmt.Printf("channel %q, %d changes\n", *channel, len(entries))
		for _, e := range entries {
			h, err := txn.External(e.Change)
			if err != nil {
				return err
			}
			fmt.Printf("  %4d %s state %s\n", e.N, h, e.State)
		}

		rows, err := txn.GraphDump(ch)
		if err != nil {
			return err
		}
		fmt.Printf("graph, %d rows\n", len(rows))
		for _, r := range rows {
			fmt.Printf("  %s\n", r)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("dump failed: %s", err)
	}
}
