// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/vitalstream/internal/envelope"
)

func newDecryptCommand(opts *RootOptions) *cobra.Command {
	var key string
	var capacity int
	cmd := &cobra.Command{
		Use:   "decrypt [ENVELOPE]",
		Short: "Open envelopes locally with the shared key",
		Long: `Decrypt envelopes without sending them anywhere.

The envelope is read from the argument, or one per line from stdin when
no argument is given. The key comes from --key or VITALS_KEY.`,
		Example: `  vitalsctl decrypt "$ENVELOPE"
  vitalsctl range patient1 1 10 --format json | jq -r '.[].envelope' | vitalsctl decrypt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("VITALS_KEY")
			}
			if key == "" {
				return errors.New("no key: set --key or VITALS_KEY")
			}
			codec, err := envelope.New(key, capacity)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				return decryptOne(cmd, opts, codec, args[0])
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if err := decryptOne(cmd, opts, codec, line); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "envelope key material (default $VITALS_KEY)")
	cmd.Flags().IntVar(&capacity, "capacity", envelope.DefaultCapacity, "envelope plaintext capacity")
	return cmd
}

func decryptOne(cmd *cobra.Command, opts *RootOptions, codec *envelope.Codec, env string) error {
	reading, err := codec.Decode(env)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	if opts.Format == FormatJSON {
		return writeJSON(cmd, reading)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s hr=%d spo2=%d temp=%.1f at=%s\n",
		reading.EntityID, reading.HeartRate, reading.OxygenLevel, reading.Temp,
		reading.GeneratedAt.Format(time.RFC3339))
	return nil
}
