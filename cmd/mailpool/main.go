package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bravo1goingdark/mailpool/cli"
	"github.com/bravo1goingdark/mailpool/logger"
)

func main() {
	log := logger.New("mailpool")

	args, err := cli.ParseFlags()
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(2)
	}
	if args.Debug {
		log = logger.NewDebug("mailpool")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRunner(log).Run(ctx, args); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
