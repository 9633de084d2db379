// Package main запускает сервис и CLI импорта подписок на подкасты.
package main

import (
	"fmt"
	"os"
)

const (
	Version = "0.3.0"
	appName = "podcasts"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
