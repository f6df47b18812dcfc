package command

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/urfave/cli/v3"

	"github.com/adeilh/rakhcache/internal/config"
)

func FlushCommand() *cli.Command {
	return &cli.Command{
		Name:   "flush",
		Usage:  "drop every cached collection from the shared backing store",
		Action: FlushCommandAction,
	}
}

// FlushCommandAction removes backing entries under the configured prefix.
// Revocations live under a separate prefix and survive.
func FlushCommandAction(ctx context.Context, cmd *cli.Command) error {
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

	type prefixDeleter interface {
		DeletePrefix(ctx context.Context, prefix string) (int64, error)
	}
	pd, ok := store.(prefixDeleter)
	if !ok {
		return fmt.Errorf("%w: %s backing cannot delete by prefix", config.ErrInvalid, cfg.Cache.Backing.Driver)
	}
	prefix := cfg.Cache.Backing.Prefix + ":"
	n, err := pd.DeletePrefix(ctx, prefix)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "removed %s %s under %s\n", humanize.Comma(n), english.PluralWord(int(n), "entry", "entries"), prefix)
	return err
}
