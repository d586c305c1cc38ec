// Command gateway runs the x402 payment gateway.
package main

import (
	"fmt"
	"os"

	"github.com/oysterprotocol/x402-gateway/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
