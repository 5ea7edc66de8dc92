package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/paperd/pkg/client"
	"github.com/turtacn/paperd/pkg/errors"
)

// commandContext returns the CLIContext plus a context bounded by the
// global timeout flag.
func commandContext(cmd *cobra.Command) (*CLIContext, context.Context, context.CancelFunc, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cliCtx.Timeout)
	return cliCtx, ctx, cancel, nil
}

// NewGetCmd looks one paper up by any accepted reference.
func NewGetCmd() *cobra.Command {
	var fields string
	cmd := &cobra.Command{
		Use:   "get <ref>",
		Short: "Fetch one paper by canonical id or prefixed external id",
		Example: `  paperctl get 649def34f8be52c8b66281af98ae884c09aef38b
  paperctl get DOI:10.18653/v1/N18-3011 --fields title,year,authors.name
  paperctl get ARXIV:2106.15928`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			paper, err := cliCtx.Client.Papers().Get(ctx, args[0], fields)
			if err != nil {
				return err
			}
			return PrintResult(cmd, paper)
		},
	}
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated field paths")
	return cmd
}

func newRelationCmd(kind string, fetch func(pc *client.PapersClient, ctx context.Context, ref string, w client.Window, fields string) (*client.RelationPage, error)) *cobra.Command {
	var fields string
	var offset, limit int
	cmd := &cobra.Command{
		Use:   kind + " <ref>",
		Short: "Page through a paper's " + kind,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			page, err := fetch(cliCtx.Client.Papers(), ctx, args[0], client.Window{Offset: offset, Limit: limit}, fields)
			if err != nil {
				return err
			}
			return PrintResult(cmd, page)
		},
	}
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated field paths")
	cmd.Flags().IntVar(&offset, "offset", 0, "window offset")
	cmd.Flags().IntVar(&limit, "limit", 100, "window size")
	return cmd
}

// NewCitationsCmd pages through a paper's citations.
func NewCitationsCmd() *cobra.Command {
	return newRelationCmd("citations", func(pc *client.PapersClient, ctx context.Context, ref string, w client.Window, fields string) (*client.RelationPage, error) {
		return pc.Citations(ctx, ref, w, fields)
	})
}

// NewReferencesCmd pages through a paper's references.
func NewReferencesCmd() *cobra.Command {
	return newRelationCmd("references", func(pc *client.PapersClient, ctx context.Context, ref string, w client.Window, fields string) (*client.RelationPage, error) {
		return pc.References(ctx, ref, w, fields)
	})
}

// NewBatchCmd resolves multiple references in one call.
func NewBatchCmd() *cobra.Command {
	var fields string
	cmd := &cobra.Command{
		Use:   "batch <ref> [<ref>...]",
		Short: "Fetch up to 500 papers in one call, order-preserving",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			papers, err := cliCtx.Client.Papers().Batch(ctx, args, fields)
			if err != nil {
				return err
			}
			return PrintResult(cmd, papers)
		},
	}
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated field paths")
	return cmd
}

// NewSearchCmd runs a relevance query through the proxy's search cache.
func NewSearchCmd() *cobra.Command {
	var fields, year, venue, fos string
	var offset, limit int
	var openAccess bool
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search papers by relevance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			page, err := cliCtx.Client.Papers().Search(ctx, strings.Join(args, " "), client.SearchOptions{
				Year:          year,
				Venue:         venue,
				FieldsOfStudy: fos,
				OpenAccessPDF: openAccess,
				Window:        client.Window{Offset: offset, Limit: limit},
				Fields:        fields,
			})
			if err != nil {
				return err
			}
			return PrintResult(cmd, page)
		},
	}
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated field paths")
	cmd.Flags().StringVar(&year, "year", "", "publication year or range (2019-2021)")
	cmd.Flags().StringVar(&venue, "venue", "", "publication venue filter")
	cmd.Flags().StringVar(&fos, "fields-of-study", "", "fields-of-study filter")
	cmd.Flags().BoolVar(&openAccess, "open-access", false, "restrict to papers with an open-access PDF")
	cmd.Flags().IntVar(&offset, "offset", 0, "window offset")
	cmd.Flags().IntVar(&limit, "limit", 10, "window size")
	return cmd
}

// NewWarmCmd pre-populates the hot cache for a paper.
func NewWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm <ref>",
		Short: "Fetch a paper if absent and populate the hot cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			if err := cliCtx.Client.Papers().WarmCache(ctx, args[0]); err != nil {
				return err
			}
			PrintSuccess(cmd, "cache warmed for "+args[0])
			return nil
		},
	}
}

// NewInvalidateCmd drops every hot-cache entry for a paper.
func NewInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <ref>",
		Short: "Delete a paper's hot-cache entries (graph store untouched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			if err := cliCtx.Client.Papers().InvalidateCache(ctx, args[0]); err != nil {
				return err
			}
			PrintSuccess(cmd, "cache invalidated for "+args[0])
			return nil
		},
	}
}

// NewSimilarCmd lists the embedding-nearest neighbors of a paper.
func NewSimilarCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "similar <ref>",
		Short: "List the embedding-nearest papers (best-effort extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, ctx, cancel, err := commandContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			hits, err := cliCtx.Client.Papers().Similar(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				return errors.NotFound("no similar papers recorded")
			}
			return PrintResult(cmd, hits)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of neighbors")
	return cmd
}
