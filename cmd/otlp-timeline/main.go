package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tobert/otlp-timeline/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "otlp-timeline",
		Usage:   "Interactive trace timelines from OTLP, Jaeger and span list data",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(),
			cli.RenderCommand(),
			cli.DoctorCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
