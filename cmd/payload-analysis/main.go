// payload-analysis is the command receive-msg runs for every message it
// receives. It reports what kind of payload it was given.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/saaga0h/mqtt-samples/internal/analysis"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("payload-analysis", pflag.ContinueOnError)
	message := fs.StringP("message", "m", "", "Message to analyze (required)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if !fs.Changed("message") {
		fmt.Fprintln(os.Stderr, "Error: --message is required")
		fs.Usage()
		os.Exit(2)
	}

	if err := analysis.NewAnalyzer(os.Stdout).Analyze([]byte(*message)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
