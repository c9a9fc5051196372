package main

import (
	"fmt"
	"io"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  dal [global options] run <program.json>")
	fmt.Fprintln(w, "  dal [global options] call <program.json> <function> [json-arg ...]")
	fmt.Fprintln(w, "  dal [global options] check-config")
	fmt.Fprintln(w, "  dal version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global options:")
	fmt.Fprintln(w, "  --config <path>   configuration file (default: ./dal.yml when present)")
	fmt.Fprintln(w, "  --caller <id>     principal id used for @secure checks")
	fmt.Fprintln(w, "  --role <role>     role held by the caller; repeatable")
	fmt.Fprintln(w, "  --audit           print audit records as JSON lines after the run")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Programs are JSON ASTs produced by the DAL parser. DAL_* environment")
	fmt.Fprintln(w, "variables override transaction storage and log level settings.")
}
