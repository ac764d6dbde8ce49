package main

import (
	"cloutdash/internal/di"
	"cloutdash/internal/structures"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	flags := &structures.CliFlags{}
	pflag.StringVarP(&flags.ConfigPath, "config", "c", "config.yaml", "path to the YAML config file")
	pflag.BoolVarP(&flags.DebugMode, "debug", "d", false, "enable debug mode")
	pflag.Parse()

	if _, err := di.InitApp(flags); err != nil {
		fmt.Fprintf(os.Stderr, "cloutdash: %s\n", err)
		os.Exit(1)
	}
}
