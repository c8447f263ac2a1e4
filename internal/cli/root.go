// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package cli implements vitalsctl, the operator's audit tool. It queries
// a running ingestion server for sequence state and gaps, and opens
// envelopes locally with the shared key.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/vitalstream/internal/client"
	"github.com/tomtom215/vitalstream/internal/models"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// Querier is the read side of the ingestion server. *client.SinkClient
// satisfies it.
type Querier interface {
	LastSequences(ctx context.Context) (map[string]int64, error)
	Entities(ctx context.Context) ([]string, error)
	Range(ctx context.Context, entity string, start, end int64) ([]*models.IngestionRecord, error)
	Gaps(ctx context.Context, entity string, start, end int64) (*models.GapReport, error)
	Recent(ctx context.Context, entity string, limit int) ([]*models.IngestionRecord, error)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Timeout time.Duration
	Format  string

	// NewQuerier builds the server binding. Tests replace it.
	NewQuerier func(opts *RootOptions) Querier
}

func defaultQuerier(opts *RootOptions) Querier {
	return client.New(client.Config{BaseURL: opts.Server, Timeout: opts.Timeout})
}

// NewRootCommand creates the vitalsctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewQuerier: defaultQuerier})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vitalsctl",
		Short: "Audit a vitals ingestion server",
		Long: `vitalsctl inspects what an ingestion server has recorded.

It lists per-entity sequence high-water marks, reports missing sequence
numbers, dumps stored records and decrypts envelopes with VITALS_KEY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	server := os.Getenv("SINK_URL")
	if server == "" {
		server = "http://127.0.0.1:8000"
	}
	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "ingestion server base URL (env SINK_URL)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")

	cmd.AddCommand(newSequencesCommand(opts))
	cmd.AddCommand(newEntitiesCommand(opts))
	cmd.AddCommand(newRangeCommand(opts))
	cmd.AddCommand(newGapsCommand(opts))
	cmd.AddCommand(newRecentCommand(opts))
	cmd.AddCommand(newDecryptCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, o.Timeout)
}
