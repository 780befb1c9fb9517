package main

import (
	"log/slog"
	"os"

	"github.com/N1kunj1998/FastCaption/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
