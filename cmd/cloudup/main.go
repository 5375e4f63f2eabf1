package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/cloudup/internal/app"
	"github.com/dmitrijs2005/cloudup/internal/buildinfo"
	"github.com/dmitrijs2005/cloudup/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stderr)

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
