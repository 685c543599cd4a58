package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/config"
	"github.com/Paulofn1/green-connect-hub/internal/app"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "", "config yaml file")
	dev      = flag.Bool("dev", false, "run in development log mode")
)

var version = "develop"

func usage() {
	fmt.Fprintf(os.Stderr, `greenhub version: %s
Usage: greenhub [-h] [-v] [-dev] [-c filename]

Options:
`, version)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}
	if *h {
		usage()
		return
	}

	cfg, err := config.LoadConfig(*conffile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dev {
		cfg.Logger.Mode = "development"
	}

	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer application.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		zap.L().Error("greenhub exited", zap.Error(err))
		application.Release()
		os.Exit(1)
	}
}
