package main

import (
	"fmt"
	"os"

	"github.com/lsm/httpfilter/httpclient"
	"github.com/lsm/httpfilter/internal/cli"
)

const usage = `hfcall - call HTTP endpoints through a configured filter chain

Usage:
  hfcall call -url <url> [flags]   Perform a call (flags: -config, -client, -method,
                                   -data, -header, -type, -log-level, -watch, -listen)
  hfcall validate [dir]            Validate client definition files

Run 'hfcall <command> -h' for help on a specific command.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if status := httpclient.StatusOf(err); status > 0 {
			os.Exit(status / 100)
		}
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return nil
	}

	switch os.Args[1] {
	case "call":
		return cli.RunCall(os.Args[2:], os.Stdout)
	case "validate":
		return cli.RunValidate(os.Args[2:], os.Stdout, os.Stderr)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\nRun 'hfcall help' for usage", os.Args[1])
	}
}
