package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/cache"
	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	"github.com/vasiliy-maslov/laundry-tracking/internal/config"
	"github.com/vasiliy-maslov/laundry-tracking/internal/customer"
	"github.com/vasiliy-maslov/laundry-tracking/internal/dashboard"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/outbox"
)

const usage = `usage: laundry-client [-config file] <command> [args]

commands:
  submit      -name NAME -items type:count[:color],... [-room -contact -address -instructions -priority -token]
  status      TOKEN
  dashboard   [-q TEXT] [-status S] [-date today|yesterday|week|month] [-priority P]
  set-status  TOKEN STATUS [-note TEXT] [-eta RFC3339]
  advance     TOKEN [-note TEXT]
  priority    TOKEN [urgent|express|normal]
  drain
  outbox
  retry       LOCAL_ID
  watch
`

func main() {
	configPath := flag.String("config", "laundry-client.yaml", "path to the client config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start client")
	}
	defer a.close()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("Command failed")
		a.close()
		os.Exit(1)
	}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Str("service", "laundry-client").Logger()
}

type app struct {
	cfg      *config.ClientConfig
	store    *localstore.Store
	api      *client.Client
	outbox   *outbox.Outbox
	cache    *cache.Router
	session  *dashboard.Session
	customer *customer.Service
	out      io.Writer
	closed   bool
}

func newApp(ctx context.Context, cfg *config.ClientConfig, out io.Writer) (*app, error) {
	store, err := localstore.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}

	api := client.New(cfg.ServerURL, cfg.RequestTimeout)
	box := outbox.New(store, outbox.NewAPISender(api), outbox.Config{
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		EntryTimeout: cfg.Outbox.EntryTimeout,
	})
	router := cache.New(store, cache.Config{
		Version:           cfg.Cache.Version,
		MaxDynamicEntries: cfg.Cache.MaxDynamicEntries,
		NetworkTimeout:    cfg.Cache.NetworkTimeout,
	})
	if err := router.Open(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		api:      api,
		outbox:   box,
		cache:    router,
		session:  dashboard.NewSession(store, api, box, router),
		customer: customer.New(api, box, router, cfg.TokenPrefix, cfg.RequestTimeout),
		out:      out,
	}, nil
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close local store")
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "submit":
		return a.submit(ctx, args)
	case "status":
		return a.status(ctx, args)
	case "dashboard":
		return a.dashboard(ctx, args)
	case "set-status":
		return a.setStatus(ctx, args)
	case "advance":
		return a.advance(ctx, args)
	case "priority":
		return a.priority(ctx, args)
	case "drain":
		return a.drain(ctx)
	case "outbox":
		return a.listOutbox(ctx)
	case "retry":
		return a.retry(ctx, args)
	case "watch":
		return a.watch(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}
