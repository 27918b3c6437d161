// Command fetch_scrips downloads the scrip master and prints the option
// chain for one underlying, for picking tokens to put in INSTRUMENT_TOKENS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"niftyPulse/internal/adapters/logger"
	"niftyPulse/internal/adapters/scripmaster"
)

func main() {
	underlying := flag.String("underlying", "NIFTY", "option underlying name")
	expiry := flag.String("expiry", "", "expiry like 13MAR2025 (empty = nearest)")
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	ctx := context.Background()

	dir, err := scripmaster.New(scripmaster.Config{Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := dir.Load(ctx); err != nil {
		log.Fatalf("FATAL: failed to load scrip master: %v", err)
	}

	chain, err := dir.OptionChain(ctx, *underlying, *expiry)
	if err != nil {
		log.Fatalf("FATAL: failed to resolve option chain: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSYMBOL\tEXPIRY\tSTRIKE\tTYPE")
	for _, inst := range chain {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inst.Token, inst.Symbol, inst.Expiry, inst.Strike, inst.OptionType)
	}
	_ = w.Flush()
}
