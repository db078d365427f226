package main

import (
	"github.com/meditrack/backend/internal/server"
	"github.com/meditrack/backend/internal/util"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
