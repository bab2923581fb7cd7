package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"watcherseye/internal/api"
	"watcherseye/internal/catalog"
	"watcherseye/internal/config"
	"watcherseye/internal/controller"
	"watcherseye/internal/observer"
	"watcherseye/internal/proxy"
	"watcherseye/internal/ratelimit"
	"watcherseye/internal/store"
	"watcherseye/internal/trade"
)

func main() {
	// Parse flags and load configuration
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fatal("failed to parse flags", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	cat := catalog.Default()
	if err := cat.Validate(); err != nil {
		fatal("invalid attribute catalog", err)
	}

	tradeClient := trade.New(cat, trade.Options{
		BaseURL:          cfg.TradeBaseURL,
		League:           cfg.League,
		UserAgent:        cfg.UserAgent,
		Currency:         cfg.TargetCurrency,
		MinItemLevel:     cfg.MinItemLevel,
		ExcludeCorrupted: cfg.ExcludeCorrupted,
		Timeout:          cfg.RequestTimeout,
		RetryCount:       cfg.RetryCount,
	})
	defer tradeClient.Close()

	results, err := store.Open(store.Options{
		Driver:      cfg.StoreDriver,
		ResultsPath: cfg.ResultsPath,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		fatal("failed to open result store", err)
	}
	defer results.Close()

	feed := observer.NewFeed(0)
	observers := observer.Multi{
		observer.NewConsole(os.Stdout, cfg.TargetCurrency),
		observer.NewLog(logger),
		feed,
	}

	ctrl := controller.New(cat, tradeClient,
		proxy.NewSource(cfg.ProxySourceURL(), cfg.UserAgent, cfg.RequestTimeout),
		results, observers,
		controller.Options{
			CooldownTicks: cfg.CooldownTicks,
			TickInterval:  cfg.TickInterval,
			NewPacer: func() controller.Pacer {
				return ratelimit.New(ratelimit.Options{
					RequestsPerMinute: cfg.RequestsPerMinute,
					Window:            cfg.RateWindow,
				})
			},
		})

	// Runs get their own context so an interrupt stops them through Stop and
	// the query in flight still completes; the serve context ends on interrupt.
	runCtx := context.Background()
	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals: the first asks the run to stop, the second exits
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping...")
		ctrl.Stop()
		cancel()
		<-sigChan
		os.Exit(1)
	}()

	go readCommands(os.Stdin, ctrl)

	serveErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		server := api.NewServer(runCtx, ctrl, feed)
		go func() { serveErr <- server.ListenAndServe(serveCtx, cfg.HTTPAddr) }()
	} else {
		close(serveErr)
	}

	if _, err := ctrl.Start(runCtx, cfg.RunMode()); err != nil {
		fatal("failed to start run", err)
	}

	fmt.Printf("Fetching Watcher's Eye prices (%s mode, league %s)...\n", cfg.RunMode(), cfg.League)
	fmt.Println("Commands: pause, resume, stop")
	fmt.Println("================================================")

	if err := ctrl.Wait(context.Background()); err != nil {
		fatal("run did not finish", err)
	}
	fmt.Println("================================================")
	fmt.Printf("Run %s: %d result(s)\n", ctrl.State(), len(ctrl.Results()))

	// Keep serving the control API until interrupted
	if err := <-serveErr; err != nil {
		fatal("control API failed", err)
	}
}

// readCommands applies pause, resume and stop typed on r to ctrl
func readCommands(r io.Reader, ctrl *controller.Controller) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "p", "pause":
			ctrl.Pause()
		case "r", "resume":
			ctrl.Resume()
		case "s", "stop":
			ctrl.Stop()
		case "":
		default:
			fmt.Println("Unknown command. Use pause, resume or stop.")
		}
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
