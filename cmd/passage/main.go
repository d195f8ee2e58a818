package main

import (
	"fmt"
	"os"

	"passage/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "passage:", err)
		os.Exit(1)
	}
}
