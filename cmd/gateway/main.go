package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rnblock/gateway/internal/clock"
	"github.com/rnblock/gateway/internal/config"
	"github.com/rnblock/gateway/internal/server"
	"github.com/rnblock/gateway/pkg/db"
	"github.com/rnblock/gateway/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// HTTP surface and admission domains
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
