package main

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/loader"
	fileloader "github.com/OFFIS-RIT/maintkg/backend/pkg/loader/io"

	"github.com/spf13/cobra"
)

var ingestExtensions = []string{".json", ".txt", ".md"}

// collectFiles expands directories into the ingestible files below them, in
// lexical order.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if path == p || slices.Contains(ingestExtensions, strings.ToLower(filepath.Ext(path))) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

type documentParams struct {
	id        string
	version   int64
	maxTokens int
}

func (p documentParams) load(cmd *cobra.Command, src loader.Source, path string, many bool) (common.Document, error) {
	params := loader.LoadParams{Key: path, Version: p.version, MaxTokens: p.maxTokens}
	if !many {
		params.ID = p.id
	}
	return loader.Load(cmd.Context(), src, params)
}

func (c *cli) ingestCmd() *cobra.Command {
	var p documentParams
	cmd := &cobra.Command{
		Use:     "ingest [file or directory...]",
		Short:   "Ingest normalized JSON documents or cleaned text files",
		Aliases: []string{"i"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectFiles(args)
			if err != nil {
				return err
			}
			src := fileloader.NewFileSource("")
			reports := make([]graph.Report, 0, len(files))
			for _, f := range files {
				doc, err := p.load(cmd, src, f, len(files) > 1)
				if err != nil {
					return err
				}
				report, err := c.engine.Ingest(cmd.Context(), doc)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}
			return c.print(cmd.OutOrStdout(), reports)
		},
	}
	cmd.Flags().StringVar(&p.id, "id", "", "document id for a single text file (default: file name)")
	cmd.Flags().Int64Var(&p.version, "version", 1, "document version for text files")
	cmd.Flags().IntVar(&p.maxTokens, "max-tokens", 0, "split text segments above this many tokens")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var p documentParams
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a document at the ingestion boundary without ingesting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := p.load(cmd, fileloader.NewFileSource(""), args[0], false)
			if err != nil {
				return err
			}
			if err := c.engine.Validate(doc); err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), map[string]any{"id": doc.ID, "version": doc.Version, "segments": len(doc.Segments)})
		},
	}
	cmd.Flags().StringVar(&p.id, "id", "", "document id for a text file (default: file name)")
	cmd.Flags().Int64Var(&p.version, "version", 1, "document version for a text file")
	return cmd
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [document id]",
		Short: "Retract everything a document asserted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.engine.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), report)
		},
	}
}

func (c *cli) documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List the last ingested version of every document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.print(cmd.OutOrStdout(), c.engine.Documents())
		},
	}
}
