// Package main provides the wheelsync CLI application.
package main

import (
	"log"
	"os"

	"github.com/clean-dependency-project/wheelsync/internal/cli"
)

func main() {
	app := cli.NewApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
