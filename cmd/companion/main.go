package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/companion/pkg/callback"
	"github.com/dmitrymomot/companion/pkg/capi"
	"github.com/dmitrymomot/companion/pkg/config"
	"github.com/dmitrymomot/companion/pkg/correlation"
	"github.com/dmitrymomot/companion/pkg/journal"
	"github.com/dmitrymomot/companion/pkg/logger"
	"github.com/dmitrymomot/companion/pkg/pg"
	"github.com/dmitrymomot/companion/pkg/redis"
)

type appConfig struct {
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat logger.Format `env:"LOG_FORMAT" envDefault:"text"`
}

type app struct {
	capi     capi.Config
	journal  journal.Config
	s3       journal.S3Config
	callback callback.Config
	redis    redis.Config
	pg       pg.Config
	log      *slog.Logger
}

const usage = `usage: companion <command> [arguments]

commands:
  login <identity>              log in, waiting for the browser when needed
  deliver <redirect-url>        hand a redirect url to a waiting login
  status <identity>             show the commander profile
  get <identity> <path>         fetch an API path, e.g. /market
  journal [-n N] [-commander name] <identity>
                                run journal synchronization passes
  logout <identity>             forget the stored credential
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		a.log.Error("command failed", slog.String("command", flag.Arg(0)), logger.Error(err))
		os.Exit(1)
	}
}

func loadApp() (*app, error) {
	var (
		appCfg appConfig
		a      app
	)
	if err := errors.Join(
		config.Load(&appCfg),
		config.Load(&a.capi),
		config.Load(&a.journal),
		config.Load(&a.s3),
		config.Load(&a.callback),
		config.Load(&a.redis),
		config.Load(&a.pg),
	); err != nil {
		return nil, err
	}

	format := appCfg.LogFormat
	if format != logger.FormatJSON {
		format = logger.FormatText
	}
	a.log = logger.New(
		logger.WithFormat(format),
		logger.WithLevelName(appCfg.LogLevel),
		logger.WithAttr(slog.String("app", "companion")),
		logger.WithContextExtractors(correlation.LoggerExtractor()),
	)
	logger.SetAsDefault(a.log)
	return &a, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "deliver":
		return a.deliver(ctx, args)
	case "status":
		return a.status(ctx, args)
	case "get":
		return a.get(ctx, args)
	case "journal":
		return a.syncJournal(ctx, args)
	case "logout":
		return a.logout(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) newSession() *capi.Session {
	return capi.NewSession(a.capi, capi.WithLogger(a.log))
}

func requireArgs(args []string, n int, what string) error {
	if len(args) < n {
		return fmt.Errorf("missing %s", what)
	}
	return nil
}
