// Clawrouter is a local, single-user HTTP proxy that sits between an LLM
// client and a remote aggregator endpoint: it routes each request to the
// cheapest model tier that can handle it, signs x402 payment
// authorizations on demand, and deduplicates identical in-flight requests.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/clawrouter.yaml", "path to routing config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("clawrouter", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
