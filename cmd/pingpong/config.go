package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.cfg.TOML()
			if err != nil {
				return errors.Wrap(err, "encode config failed")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
