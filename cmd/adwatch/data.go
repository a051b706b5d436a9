package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aluiziolira/go-adwatch/history"
	"github.com/aluiziolira/go-adwatch/models"
	"github.com/aluiziolira/go-adwatch/pipeline"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the extraction event log",
	}

	var (
		format string
		output string
		since  time.Duration
		kind   string
		url    string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Export history events to CSV or JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, media, err := a.openHistory()
			if err != nil {
				return err
			}
			defer media.Close()

			events, err := hist.Events(cmd.Context())
			if err != nil {
				return err
			}

			writer, err := createWriter(strings.ToLower(format), output)
			if err != nil {
				return fmt.Errorf("creating writer: %w", err)
			}

			filter := pipeline.Filter{Kind: models.TargetKind(kind), URL: url}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			exp := pipeline.NewExporter(writer)
			if err := exp.Export(cmd.Context(), events, filter); err != nil {
				exp.Close()
				return err
			}
			if err := exp.Close(); err != nil {
				return fmt.Errorf("close writer: %w", err)
			}

			stats := exp.GetMetrics()
			fmt.Printf("exported %v events to %s\n", stats["exported_events"], output)
			if skipped, ok := stats["skipped_events"].(map[string]int); ok && len(skipped) > 0 {
				fmt.Printf("skipped: %v\n", skipped)
			}
			return nil
		},
	}
	export.Flags().StringVar(&format, "format", "csv", "Output format: csv, jsonl, or dual")
	export.Flags().StringVarP(&output, "output", "o", "history.csv", "Output file path")
	export.Flags().DurationVar(&since, "since", 0, "Only export events newer than this (e.g. 72h)")
	export.Flags().StringVar(&kind, "type", "", "Only export events of this type: page or url")
	export.Flags().StringVar(&url, "url", "", "Only export events of this URL")

	cmd.AddCommand(export)
	return cmd
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "jsonl", "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func newCollectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"libraries"},
		Short:   "Manage tracked ads library URLs",
	}

	var nc history.NewCollection
	add := &cobra.Command{
		Use:   "add",
		Short: "Track a new ads library URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, media, err := a.openHistory()
			if err != nil {
				return err
			}
			defer media.Close()

			c, err := hist.AddCollection(cmd.Context(), nc)
			if err != nil {
				return err
			}
			fmt.Println(c.ID)
			return nil
		},
	}
	add.Flags().StringVar(&nc.Name, "name", "", "Display name")
	add.Flags().StringVar(&nc.URL, "url", "", "Ads library URL")
	add.Flags().StringVar(&nc.FolderID, "folder", "", "Folder ID")
	add.Flags().StringVar(&nc.Observations, "notes", "", "Free-form notes")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracked collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, media, err := a.openHistory()
			if err != nil {
				return err
			}
			defer media.Close()

			collections, err := hist.Collections(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCOUNT\tUPDATED\tURL")
			for _, c := range collections {
				updated := "-"
				if !c.LastUpdatedAt.IsZero() {
					updated = c.LastUpdatedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Name, c.CurrentCount, updated, c.URL)
			}
			return tw.Flush()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Stop tracking a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, media, err := a.openHistory()
			if err != nil {
				return err
			}
			defer media.Close()
			return hist.RemoveCollection(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
