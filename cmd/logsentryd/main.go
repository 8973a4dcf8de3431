// Command logsentryd is the LogSentry ingestion daemon: it serves the
// authenticated ingest and device-authorization endpoints, runs the
// per-app rolling-aggregate processor, and serves the summary API.
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
	case "start":
		err = cmdStart(os.Args[2:])
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "init-config":
		err = cmdInitConfig()
	case "install-service":
		err = cmdInstallService()
	case "uninstall-service":
		err = cmdUninstallService()
	case "config-export":
		err = cmdConfigExport(os.Args[2:])
	case "config-import":
		err = cmdConfigImport(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "logsentryd: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "logsentryd: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`logsentryd - LogSentry ingestion daemon

Usage:
  logsentryd start [--foreground] [--config <path>]
  logsentryd stop
  logsentryd status
  logsentryd init-config
  logsentryd install-service
  logsentryd uninstall-service
  logsentryd config-export <path>
  logsentryd config-import <path>
  logsentryd version
  logsentryd help`)
}
