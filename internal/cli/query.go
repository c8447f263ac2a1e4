// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package cli

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/vitalstream/internal/models"
)

func newSequencesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sequences",
		Short: "Show the highest stored seq_no per entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			seqs, err := opts.NewQuerier(opts).LastSequences(ctx)
			if err != nil {
				return fmt.Errorf("query sequences: %w", err)
			}
			if opts.Format == FormatJSON {
				return writeJSON(cmd, seqs)
			}
			entities := make([]string, 0, len(seqs))
			for e := range seqs {
				entities = append(entities, e)
			}
			sort.Strings(entities)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tLAST SEQ")
			for _, e := range entities {
				fmt.Fprintf(tw, "%s\t%d\n", e, seqs[e])
			}
			return tw.Flush()
		},
	}
}

func newEntitiesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List entities with stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			entities, err := opts.NewQuerier(opts).Entities(ctx)
			if err != nil {
				return fmt.Errorf("query entities: %w", err)
			}
			if opts.Format == FormatJSON {
				return writeJSON(cmd, entities)
			}
			for _, e := range entities {
				fmt.Fprintln(cmd.OutOrStdout(), e)
			}
			return nil
		},
	}
}

func newRangeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "range ENTITY START END",
		Short: "Dump stored records for an entity between two seq numbers",
		Example: `  vitalsctl range patient1 1 100
  vitalsctl range patient1 40 60 --format json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseBounds(args[1], args[2])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			recs, err := opts.NewQuerier(opts).Range(ctx, args[0], start, end)
			if err != nil {
				return fmt.Errorf("query range: %w", err)
			}
			return writeRecords(cmd, opts, recs)
		},
	}
}

func newGapsCommand(opts *RootOptions) *cobra.Command {
	var failOnGap bool
	cmd := &cobra.Command{
		Use:   "gaps ENTITY START END",
		Short: "List seq numbers with no stored record",
		Long: `List the sequence numbers in [START, END] that have no stored record.

A gap is a packet that was issued but never delivered, or a number that
was consumed by a dropped reading. With --fail the command exits non-zero
when any gap is found.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseBounds(args[1], args[2])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			report, err := opts.NewQuerier(opts).Gaps(ctx, args[0], start, end)
			if err != nil {
				return fmt.Errorf("query gaps: %w", err)
			}
			if opts.Format == FormatJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%d, %d]: %d present, %d missing\n",
					report.EntityID, report.Start, report.End, report.Present, len(report.Missing))
				for _, r := range collapse(report.Missing) {
					fmt.Fprintln(cmd.OutOrStdout(), "  "+r)
				}
			}
			if failOnGap && len(report.Missing) > 0 {
				return fmt.Errorf("%d missing sequence numbers", len(report.Missing))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnGap, "fail", false, "exit non-zero when gaps are found")
	return cmd
}

func newRecentCommand(opts *RootOptions) *cobra.Command {
	var limit int
	var entity string
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the newest stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			recs, err := opts.NewQuerier(opts).Recent(ctx, entity, limit)
			if err != nil {
				return fmt.Errorf("query recent: %w", err)
			}
			return writeRecords(cmd, opts, recs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "only records for this entity")
	return cmd
}

func parseBounds(s, e string) (int64, int64, error) {
	start, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid START %q: %w", s, err)
	}
	end, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid END %q: %w", e, err)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid range [%d, %d]: need 1 <= START <= END", start, end)
	}
	return start, end, nil
}

// collapse renders sorted seq numbers as runs: 3, 5-9, 12.
func collapse(seqs []int64) []string {
	var out []string
	for i := 0; i < len(seqs); {
		j := i
		for j+1 < len(seqs) && seqs[j+1] == seqs[j]+1 {
			j++
		}
		if i == j {
			out = append(out, strconv.FormatInt(seqs[i], 10))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", seqs[i], seqs[j]))
		}
		i = j + 1
	}
	return out
}

func writeRecords(cmd *cobra.Command, opts *RootOptions, recs []*models.IngestionRecord) error {
	if opts.Format == FormatJSON {
		if recs == nil {
			recs = []*models.IngestionRecord{}
		}
		return writeJSON(cmd, recs)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSEQ\tID\tRECEIVED\tLATE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%t\n", r.EntityID, r.SeqNo, r.ID, r.ReceivedAt.Format(time.RFC3339), r.Late)
	}
	return tw.Flush()
}
