// Command docmill is the document conversion toolkit.
//
// Usage:
//
//	docmill convert -in report.docx -out out/     # convert one document
//	docmill batch -out out/ a.docx b.xlsx c.png   # convert many through the pool
//	docmill watch -config docmill.yaml            # inbox daemon
//	docmill pdf merge -out all.pdf a.pdf b.pdf    # PDF toolkit
//	docmill status -config docmill.yaml           # daemon health
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"
)

func main() {
	_ = godotenv.Load() // optional .env supplying DOCMILL_* defaults

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(ctx, os.Args[2:])
	case "batch":
		err = runBatch(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "pdf":
		err = runPDF(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "help", "-h", "-help", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "docmill: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("docmill: fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: docmill <command> [flags]

commands:
  convert   convert one document and write its artifacts
  batch     convert many documents through the worker pool
  watch     watch an inbox directory and convert files as they arrive
  pdf       PDF toolkit: merge, split, rotate, optimize, encrypt, decrypt, import, pagecount
  status    report daemon heartbeats, queue depth and recent events

run "docmill <command> -h" for command flags
`)
}

// newLogger builds the JSON logger and installs it as the slog default so
// library code picks it up too.
func newLogger(logLevel string) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
