package client

import (
	"fmt"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
)

// newStatsCommand constructs the `stats` command.
func newStatsCommand(t transportFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the server's reconciliation counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			fams, err := t().Metrics(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(fams))
			for name := range fams {
				if strings.HasPrefix(name, prefix) {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %g\n", name, sumFamily(fams[name]))
			}
			return nil
		},
	}
	cmd.Flags().String("prefix", "keywatch_", "Only show families with this name prefix")
	return cmd
}

// sumFamily totals a family across its label sets. Histograms contribute
// their sample count.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.GetCounter().GetValue()
		case m.Gauge != nil:
			total += m.GetGauge().GetValue()
		case m.Histogram != nil:
			total += float64(m.GetHistogram().GetSampleCount())
		case m.Untyped != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}
