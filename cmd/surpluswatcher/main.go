package main

import (
	"github.com/joho/godotenv"

	"surplus-watcher/internal/cli"
)

func main() {
	// Local development convenience; the file is optional everywhere else.
	_ = godotenv.Load(".env")

	cli.Execute()
}
