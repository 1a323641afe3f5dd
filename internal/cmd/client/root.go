package client

import (
	"github.com/spf13/cobra"

	"github.com/rzbill/keywatch/internal/cmd/client/transports"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the keywatch client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "keywatch",
		Short: "keywatch client commands",
	}
	root.AddCommand(NewCommands(baseURL)...)
	return root
}

// NewCommands returns the client command set.
func NewCommands(baseURL BaseURLFunc) []*cobra.Command {
	t := func() transports.Transport { return transports.NewHTTPTransport(baseURL) }
	return []*cobra.Command{
		newWatchCommand(t),
		newPendingCommand(t),
		newCompensateCommand(t),
		newEventsCommand(t),
		newStatsCommand(t),
	}
}
