package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/adeilh/rakhcache/auth"
	"github.com/adeilh/rakhcache/internal/config"
)

var ErrMissingToken = errors.New("a token is required")

func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a gateway bearer token for a tenant",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{
				Name:    "subject",
				Aliases: []string{"s"},
				Usage:   "subject recorded in the token",
				Value:   "rakhcache-cli",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "token lifetime, defaults to auth.token_ttl",
			},
		},
		Action: TokenCommandAction,
	}
}

// TokenCommandAction prints a signed token on stdout.
func TokenCommandAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg, nil)
	if err != nil {
		return err
	}
	ttl := cfg.Auth.TokenTTL.Duration
	if cmd.IsSet("ttl") {
		ttl = cmd.Duration("ttl")
	}
	tok, err := provider.Issue(ctx, auth.Claims{
		Subject: cmd.String("subject"),
		Tenant:  cmd.String("tenant"),
	}, auth.IssueOptions{
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      ttl,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, tok.Raw())
	return err
}

func RevokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "revoke",
		Usage:     "block a token on every gateway sharing the backing store",
		ArgsUsage: "<token>",
		Action:    RevokeCommandAction,
	}
}

// RevokeCommandAction verifies the token and records its id until it expires.
func RevokeCommandAction(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.Args().First()
	if raw == "" {
		return ErrMissingToken
	}
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	switch cfg.Cache.Backing.Driver {
	case config.BackingRedis, config.BackingPostgres:
	default:
		return ErrSharedStoreRequired
	}
	store, closeStore, err := openBacking(ctx, cfg.Cache.Backing)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	provider, err := newProvider(cfg, store)
	if err != nil {
		return err
	}
	tok, err := provider.Parse(ctx, raw)
	if err != nil {
		return err
	}
	claims := tok.Claims()
	if err := provider.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return err
	}
	until := "a day"
	if !claims.ExpiresAt.IsZero() {
		until = claims.ExpiresAt.Format(time.RFC3339)
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "revoked %s (tenant %s) until %s\n", claims.ID, claims.Tenant, until)
	return err
}
