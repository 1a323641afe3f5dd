package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/keywatch/internal/cmd/client/transports"
)

type transportFunc func() transports.Transport

// newWatchCommand constructs the `watch` command.
func newWatchCommand(t transportFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Store a value with a TTL and index its deadline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			value, _ := cmd.Flags().GetString("value")
			b64, _ := cmd.Flags().GetBool("base64")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if key == "" {
				return errors.New("--key is required")
			}
			if ttl < 0 {
				return errors.New("--ttl must not be negative")
			}
			val, err := decodeValue(value, b64)
			if err != nil {
				return fmt.Errorf("invalid --value: %w", err)
			}
			indexed, err := t().Watch(cmd.Context(), transports.WatchRequest{Key: key, Value: val, TTL: ttl})
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"key":     key,
				"indexed": indexed,
				"value":   printable(val),
			})
		},
	}
	cmd.Flags().String("key", "", "Key to store")
	cmd.Flags().String("value", "", "Value to store")
	cmd.Flags().Bool("base64", false, "Treat --value as base64")
	cmd.Flags().Duration("ttl", 0, "Time to live (0 = never expires, not indexed)")
	return cmd
}

// newPendingCommand constructs the `pending` command.
func newPendingCommand(t transportFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List index entries in deadline order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			index, entries, err := t().Pending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			now := time.Now()
			items := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				items = append(items, pendingItem(e, now))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"index": index, "entries": items})
		},
	}
	cmd.Flags().Int("limit", 100, "Maximum entries to list")
	return cmd
}

// newCompensateCommand constructs the `compensate` command.
func newCompensateCommand(t transportFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "compensate",
		Short: "Run one compensation pass now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := t().Compensate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d removed=%d still_present=%d failed=%d duration=%s\n",
				res.Candidates, res.Removed, res.StillPresent, res.Failed, res.Duration)
			return nil
		},
	}
}

// newEventsCommand constructs the `events` command.
func newEventsCommand(t transportFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow index removals as they happen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			enc := json.NewEncoder(cmd.OutOrStdout())
			return t().Events(cmd.Context(), limit, func(ev transports.RemovalEvent) error {
				return enc.Encode(ev)
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Stop after N events (0 = infinite)")
	return cmd
}
