package main

import (
	"os"

	"github.com/soundprediction/go-graffiti/cmd/graffiti"
)

func main() {
	if err := graffiti.Execute(); err != nil {
		os.Exit(1)
	}
}
