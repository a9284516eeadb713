package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/RelStore/src/app"
	"github.com/Blackdeer1524/RelStore/src/cli"
)

func main() {
	root := cli.Init("relstored")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		e := &app.Entrypoint{ConfigPath: root.Options.ConfigPath}

		if err := e.Init(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			if err := e.Close(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "close failed: %v\n", err)
			}
		}()

		return e.Run(cmd.Context())
	}

	root.MustExecute(context.Background())
}
