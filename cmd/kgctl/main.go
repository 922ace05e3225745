// Command kgctl drives the knowledge graph engine from the command line:
// ingest documents, ask questions, run traversal patterns and inspect
// versions.
package main

import (
	"os"

	"github.com/OFFIS-RIT/maintkg/backend/internal/config"
	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Level:  util.GetEnvString("LOG_LEVEL", "warn"),
		Format: util.GetEnv("LOG_FORMAT"),
	}))

	if err := newRootCmd(config.FromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}
