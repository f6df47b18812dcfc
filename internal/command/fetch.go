package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/urfave/cli/v3"

	"github.com/adeilh/rakhcache/catalog"
)

var ErrMissingResource = errors.New("a resource is required")

func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "read one collection through the cache and print it as JSON",
		ArgsUsage: "<resource>",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.BoolFlag{
				Name:  "refetch",
				Usage: "skip any cached copy and go to the backend",
			},
			&cli.BoolFlag{
				Name:  "compact",
				Usage: "print JSON on a single line",
			},
		},
		Action: FetchCommandAction,
	}
}

// FetchCommandAction prints the collection on stdout and a one-line summary
// on stderr.
func FetchCommandAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("%w: one of %v", ErrMissingResource, catalog.Resources())
	}
	r, err := catalog.ParseResource(cmd.Args().First())
	if err != nil {
		return err
	}
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	store, closeStore, err := openBacking(ctx, cfg.Cache.Backing)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	svc := newCatalog(cfg, client, store)
	tenant := cmd.String("tenant")

	load := svc.List
	if cmd.Bool("refetch") {
		load = svc.Refetch
	}
	val, err := load(ctx, tenant, r)
	if err != nil {
		return err
	}

	var payload []byte
	if cmd.Bool("compact") {
		payload, err = json.Marshal(val)
	} else {
		payload, err = json.MarshalIndent(val, "", "  ")
	}
	if err != nil {
		return err
	}
	root := cmd.Root()
	if _, err := fmt.Fprintln(root.Writer, string(payload)); err != nil {
		return err
	}

	st, err := svc.State(tenant, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(root.ErrWriter, "%s %s for %s (%s), fetched %s, fresh for %s\n",
		humanize.Comma(int64(count(val))), english.PluralWord(count(val), "item", ""), tenant,
		humanize.Bytes(uint64(len(payload))),
		humanize.Time(st.FetchedAt), st.TTL)
	return nil
}

func count(v any) int {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return rv.Len()
	}
	return 0
}
