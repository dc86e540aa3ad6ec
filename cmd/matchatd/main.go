package main

import (
	"flag"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/mataid/matchat/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to server config file")
	flag.Parse()

	// Optional .env for MATCHAT_ADDR / MATCHAT_DATA_DIR overrides.
	_ = godotenv.Load()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
