package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/app/inputkit"
	"github.com/bookingcom/inputkit/pkg/cfg"
)

// BuildVersion is provided to be overridden at build time. Eg. go build -ldflags -X 'main.BuildVersion=...'
var BuildVersion = "(development build)"

func main() {
	configPath := flag.String("config", "", "Path to the `config file`.")
	flag.Parse()

	fh, err := os.Open(*configPath)
	if err != nil {
		log.Fatalf("Failed to open config file: %s", err)
	}

	config, err := cfg.Parse(fh)
	if err != nil {
		log.Fatalf("Failed to parse config file: %s", err)
	}
	fh.Close()

	if config.MaxProcs != 0 {
		runtime.GOMAXPROCS(config.MaxProcs)
	}
	lg, err := config.LoggerConfig.Build()
	if err != nil {
		log.Fatalf("Failed to initiate logger: %s", err)
	}
	lg = lg.Named("inputkit")

	lg.Info("starting inputkit",
		zap.String("build_version", BuildVersion),
		zap.String("config", fmt.Sprintf("%+v", config)),
	)

	app, err := inputkit.New(config, lg, BuildVersion)
	if err != nil {
		lg.Fatal("Error initializing app", zap.Error(err))
	}

	flush := app.Start(lg)
	defer flush()
}
