package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"studentverify/internal/verification/catalog"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect verification step catalogs",
	}

	var format string
	show := &cobra.Command{
		Use:   "show [path]",
		Short: "Print a catalog (the embedded one when no path is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(firstArg(args))
			if err != nil {
				return err
			}
			switch format {
			case "table":
				return writeCatalogTable(cmd.OutOrStdout(), c)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(c)
			default:
				return fmt.Errorf("unknown format %q (want table or yaml)", format)
			}
		},
	}
	show.Flags().StringVarP(&format, "format", "o", "table", "output format: table or yaml")

	validate := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a catalog file before deploying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d pillars, %d steps)\n", args[0], len(c.Pillars), c.StepCount())
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}

func writeCatalogTable(w io.Writer, c *catalog.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PILLAR\tWEIGHT\tORDER\tSTEP\tTYPE\tRETRIES\tFAST PATH")
	for _, p := range c.Pillars {
		for _, s := range p.Steps {
			fastPath := s.FastPath
			if fastPath == "" {
				fastPath = "-"
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%d\t%s\n", p.Kind, p.Weight, s.Order, s.Name, s.Type, s.Retries(), fastPath)
		}
	}
	return tw.Flush()
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}
