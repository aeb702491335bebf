package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"convoy/cmd/internal/app"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: convoy <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve                                       Start the HTTP server")
	fmt.Fprintln(os.Stderr, "  repair-unread -conversation ID | -account ID  Lower unread counters that exceed unreceipted messages")
}

func main() {
	if len(os.Args) < 2 {
		// Bare invocation keeps the old container entrypoint working.
		if err := app.Run(); err != nil {
			log.Fatal(err)
		}
		return
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = app.Run()
	case "repair-unread":
		err = runRepair(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runRepair(args []string) error {
	fs := flag.NewFlagSet("repair-unread", flag.ContinueOnError)
	conversationID := fs.String("conversation", "", "conversation id to repair")
	accountID := fs.String("account", "", "repair every conversation of this account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 1 && *conversationID == "" {
		*conversationID = fs.Arg(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.RepairUnread(ctx, *conversationID, *accountID)
}
