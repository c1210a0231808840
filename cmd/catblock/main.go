// Command catblock hides stream cards whose category is on a block list.
//
// Usage:
//
//	catblock run -config catblock.yaml          # filter a live page in Chrome
//	catblock run -url https://example.com/browse -db blocks.db
//	catblock filter -file page.html -block slots,poker > filtered.html
//	catblock filter -url https://example.com/browse -db blocks.db
//	catblock block -db blocks.db "Just Chatting"
//	catblock unblock -db blocks.db slots
//	catblock list -db blocks.db
//	catblock history -db history.db -category slots -since 24h
//	catblock history -db history.db -prune 720h
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: catblock <command> [flags]

commands:
  run       filter a live page in Chrome until interrupted
  filter    filter a saved or fetched page once and print the result
  block     add a category to the block list
  unblock   remove a category from the block list
  list      print the block list
  history   print recorded hide/show decisions

run "catblock <command> -h" for flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = cmdRun(ctx, args)
	case "filter":
		err = cmdFilter(ctx, args)
	case "block":
		err = cmdEdit(ctx, args, true)
	case "unblock":
		err = cmdEdit(ctx, args, false)
	case "list":
		err = cmdList(ctx, args)
	case "history":
		err = cmdHistory(ctx, args)
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "catblock: unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("catblock: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
