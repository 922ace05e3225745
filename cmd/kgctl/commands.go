package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// buildFunc produces the engine configuration, from the environment unless a
// test injects its own.
type buildFunc func(ctx context.Context) (engine.Config, error)

type cli struct {
	build  buildFunc
	engine *engine.Engine
	output string
}

func newRootCmd(build buildFunc) *cobra.Command {
	c := &cli{build: build}

	rootCmd := &cobra.Command{
		Use:          "kgctl",
		Short:        "Build and query the maintenance knowledge graph",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			c.engine = engine.New(cfg)
			return c.engine.Restore(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.engine == nil {
				return nil
			}
			return c.engine.Close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "json", "output format (json or yaml)")

	rootCmd.AddCommand(
		c.ingestCmd(),
		c.validateCmd(),
		c.removeCmd(),
		c.askCmd(),
		c.queryCmd(),
		c.graphCmd(),
		c.versionsCmd(),
		c.documentsCmd(),
		c.entitiesCmd(),
	)
	return rootCmd
}

func (c *cli) print(w io.Writer, v any) error {
	switch strings.ToLower(c.output) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", c.output)
}
