package command

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/adeilh/rakhcache/auth"
	"github.com/adeilh/rakhcache/gateway"
	"github.com/adeilh/rakhcache/httpx"
)

// writeSlack is added to the request timeout so a slow backend yields a 504
// body instead of a dropped connection.
const writeSlack = 5 * time.Second

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the caching gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("RAKH_LISTEN"),
				),
			},
			&cli.StringSliceFlag{
				Name:  "warm",
				Usage: "tenants whose collections are loaded at startup",
			},
		},
		Action: ServeCommandAction,
	}
}

// ServeCommandAction runs the gateway until SIGINT or SIGTERM.
func ServeCommandAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("listen") {
		cfg.Listen = cmd.String("listen")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBacking(ctx, cfg.Cache.Backing)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.WithError(err).Warn("closing backing store")
		}
	}()

	provider, err := newProvider(cfg, store)
	if err != nil {
		return err
	}
	mwOpts := []auth.MiddlewareOption{auth.WithMiddlewareLogger(log.Log)}
	if cfg.Auth.Cookie != "" {
		mwOpts = append(mwOpts, auth.WithTokenExtractor(auth.ChainExtractors(
			auth.BearerTokenExtractor(),
			auth.CookieTokenExtractor(cfg.Auth.Cookie),
		)))
	}
	mw, err := auth.NewMiddleware(provider, mwOpts...)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	svc := newCatalog(cfg, client, store)

	for _, tenant := range cmd.StringSlice("warm") {
		if err := svc.Warm(ctx, tenant); err != nil {
			log.WithError(err).WithField("tenant", tenant).Warn("warming tenant")
		}
	}

	every := cfg.Cache.JanitorInterval.Duration
	svc.StartJanitor(ctx, every)
	purgeStore(ctx, store, every)
	log.WithFields(log.Fields{
		"backing": cfg.Cache.Backing.Driver,
		"janitor": every.String(),
		"backend": cfg.Backend.URL,
	}).Info("gateway starting")

	gw := gateway.New(svc, mw,
		gateway.WithRequestTimeout(cfg.Cache.RequestTimeout.Duration),
		gateway.WithLogger(log.Log),
	)
	srv := httpx.NewServer(
		httpx.WithAddress(cfg.Listen),
		httpx.WithCORSOrigins(cfg.CORSOrigins...),
		httpx.WithTimeouts(0, cfg.Cache.RequestTimeout.Duration+writeSlack),
		httpx.WithLogger(log.Log),
	)
	srv.RegisterRoutes(gw.Register)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("gateway stopped")
	return nil
}
