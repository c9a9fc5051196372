package main

import (
	"fmt"
	"io"
	"os"
)

const cliToolVersion = "dal 0.1.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, remaining, err := parseGlobalOptions(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if len(remaining) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	switch remaining[0] {
	case "--help", "-h", "help":
		printUsage(stdout)
		return exitOK
	case "--version", "-V", "version":
		fmt.Fprintln(stdout, cliToolVersion)
		return exitOK
	case "run":
		return runProgram(opts, remaining[1:], stdout, stderr)
	case "call":
		return runCall(opts, remaining[1:], stdout, stderr)
	case "check-config":
		return runCheckConfig(opts, stdout, stderr)
	default:
		return runProgram(opts, remaining, stdout, stderr)
	}
}
