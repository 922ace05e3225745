package main

import (
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/query"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	"github.com/spf13/cobra"
)

func (c *cli) askCmd() *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a natural-language question from the latest graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []query.AnswerOption
			var t *query.QueryTrace
			if trace {
				t = query.NewQueryTrace()
				opts = append(opts, query.WithTrace(t))
			}
			answer := c.engine.Answer(cmd.Context(), strings.Join(args, " "), opts...)
			if t == nil {
				return c.print(cmd.OutOrStdout(), answer)
			}
			return c.print(cmd.OutOrStdout(), struct {
				query.Answer
				Trace query.QueryTraceSnapshot `json:"trace"`
			}{answer, t.Snapshot()})
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "include the query trace")
	return cmd
}

func (c *cli) queryCmd() *cobra.Command {
	var (
		p         store.Pattern
		relations []string
		direction string
		target    string
		asOf      int64
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a traversal pattern from seed nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range relations {
				p.Relations = append(p.Relations, common.RelationType(r))
			}
			p.Direction = store.Direction(direction)
			p.TargetType = common.EntityType(target)
			res, err := c.engine.Query(cmd.Context(), p, asOf)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringSliceVar(&p.Seeds, "seed", nil, "seed node id (repeatable)")
	cmd.Flags().StringSliceVar(&relations, "relation", nil, "relation type to follow (repeatable, default all)")
	cmd.Flags().StringVar(&direction, "direction", string(store.Outgoing), "out, in or both")
	cmd.Flags().StringVar(&target, "type", "", "only return nodes of this entity type")
	cmd.Flags().IntVar(&p.MaxDepth, "depth", store.DefaultMaxDepth, "maximum traversal depth")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "maximum number of results")
	cmd.Flags().Int64Var(&asOf, "as-of", 0, "graph version (default latest)")
	return cmd
}

func (c *cli) graphCmd() *cobra.Command {
	var (
		asOf             int64
		includeRetracted bool
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the graph as of a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.engine.Graph(asOf, includeRetracted)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), g)
		},
	}
	cmd.Flags().Int64Var(&asOf, "as-of", 0, "graph version (default latest)")
	cmd.Flags().BoolVar(&includeRetracted, "include-retracted", false, "include retracted nodes and edges")
	return cmd
}

func (c *cli) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Print the version log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.print(cmd.OutOrStdout(), c.engine.Versions())
		},
	}
}

func (c *cli) entitiesCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "entities [text]",
		Short: "Find the active nodes matching a name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.print(cmd.OutOrStdout(), c.engine.Match(common.EntityType(target), strings.Join(args, " ")))
		},
	}
	cmd.Flags().StringVar(&target, "type", "", "restrict to one entity type")
	return cmd
}
