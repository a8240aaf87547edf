package main

import (
	"fmt"
	"os"

	"github.com/hbjoroy/Weather-Service/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "weather-dashboard: %v\n", err)
		os.Exit(1)
	}
}
