// Command guardctl inspects and maintains the shared guard state: circuit and
// rate limit snapshots, cache invalidation and the effective configuration.
package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
