// Command logsentry is the LogSentry operator CLI: it drives the
// device-authorization protocol to mint and locally persist an API key
// for this host, and manages that local credentials file.
package main

import (
	"fmt"
	"os"

	"github.com/logsentry/logsentry/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "login":
		err = cmdLogin(os.Args[2:])
	case "approve":
		err = cmdApprove(os.Args[2:])
	case "keys":
		err = cmdKeys(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "logsentry: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "logsentry: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`logsentry - LogSentry operator CLI

Usage:
  logsentry login [--dsn <url>] [--app-name <name>]
  logsentry approve --owner <owner_id> --app-name <name> <user_code>
  logsentry keys show
  logsentry keys set
  logsentry keys delete
  logsentry version
  logsentry help`)
}
