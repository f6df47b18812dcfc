package main

import (
	"context"
	"fmt"
	"os"

	"github.com/adeilh/rakhcache/internal/command"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx := context.Background()
	args := os.Args
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "No command specified.")
		args = append(args, "--help")
	}

	if err := command.InitApp(ctx).Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
