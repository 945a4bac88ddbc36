package main

import (
	"flag"
	"os"

	"go.uber.org/fx"

	"cipherchat/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to a TOML config file (env CHAT_CONFIG)")
	flag.Parse()

	app := fx.New(
		server.Module(server.Params{ConfigPath: *configPath}),
	)

	app.Run()
}
