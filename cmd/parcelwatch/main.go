package main

import (
	"os"

	"github.com/parcelwatch/parcelwatch/botservice"
)

func main() {
	if err := botservice.Run(); err != nil {
		os.Exit(1)
	}
}
