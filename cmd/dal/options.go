package main

import (
	"fmt"
	"strings"
)

type globalOptions struct {
	configPath string
	caller     string
	roles      []string
	showAudit  bool
}

func parseGlobalOptions(args []string) (globalOptions, []string, error) {
	var opts globalOptions
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			remaining = append(remaining, args[i+1:]...)
			break
		}
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--caller", "--role":
			if !hasValue {
				if i+1 >= len(args) {
					return opts, nil, fmt.Errorf("%s expects a value", name)
				}
				i++
				value = args[i]
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return opts, nil, fmt.Errorf("%s expects a value", name)
			}
			switch name {
			case "--config":
				opts.configPath = value
			case "--caller":
				opts.caller = value
			case "--role":
				opts.roles = append(opts.roles, value)
			}
		case "--audit":
			opts.showAudit = true
		default:
			remaining = append(remaining, arg)
		}
	}
	return opts, remaining, nil
}
