package main

import (
	"github.com/fastybird/hapbridge/internal/app"
	"github.com/fastybird/hapbridge/internal/homekit"
	"github.com/fastybird/hapbridge/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	homekit.Init() // HAP bridge, mDNS, state store

	sig := shell.RunUntilSignal()
	app.Logger.Info().Str("signal", sig.String()).Msg("exit")
}
