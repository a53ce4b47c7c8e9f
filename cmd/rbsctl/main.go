package main

import (
	"context"
	"log"

	"github.com/aussiebroadwan/rbs/internal/cli"
)

func main() {
	root := cli.NewRootCommand(cli.FactoryFromEnv())
	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("rbsctl: %v", err)
	}
}
