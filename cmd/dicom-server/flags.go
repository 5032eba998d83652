package main

import (
	"flag"
)

// CLIConfig holds the parsed command line flags.
type CLIConfig struct {
	ConfigPath  string
	Validate    bool
	ShowVersion bool
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}
	flag.StringVar(&cli.ConfigPath, "config", "",
		"path to the YAML configuration file (defaults apply when empty)")
	flag.BoolVar(&cli.Validate, "validate", false,
		"validate the configuration and exit")
	flag.BoolVar(&cli.ShowVersion, "version", false,
		"print version information and exit")
	flag.Parse()
	return cli
}
