package main

import (
	"flag"
	"path/filepath"

	"github.com/pkg/errors"
)

// Args are the parsed command line arguments.
type Args struct {
	ConfigFile string
}

func getArgs(argv []string) (Args, error) {
	flags := flag.NewFlagSet("parley", flag.ContinueOnError)
	configFile := flags.String("config", "", "Path to the parley configuration file.")

	if err := flags.Parse(argv); err != nil {
		return Args{}, errors.Wrap(err, "error parsing arguments")
	}

	if *configFile == "" {
		flags.PrintDefaults()
		return Args{}, errors.New("you must provide a configuration file")
	}

	configPath, err := filepath.Abs(*configFile)
	if err != nil {
		return Args{}, errors.Wrapf(err,
			"unable to determine absolute path to config file: %s", *configFile)
	}

	return Args{ConfigFile: configPath}, nil
}
