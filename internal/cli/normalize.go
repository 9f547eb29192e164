package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emulab/frametrace/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "normalize <session-uuid>",
		Short: "Normalize memory-change frequencies for a session",
		Long: "Rewrite raw per-address change counts into [0,1] using the chosen\n" +
			"strategy: max_normalize, percentile_clamp, log_scale or rank_normalize.",
		Args: cobra.ExactArgs(1),
		Run:  runNormalize,
	}

	cmd.Flags().StringP("strategy", "s", "", "Normalization strategy (default from config)")

	RootCmd.AddCommand(cmd)
}

func runNormalize(cmd *cobra.Command, args []string) {
	strategy, _ := cmd.Flags().GetString("strategy")
	if strategy == "" {
		strategy = cfg.Strategy
	}
	if !model.ValidStrategies[strategy] {
		exitErr("normalize", fmt.Errorf("unknown strategy %q", strategy))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	run, err := s.Normalize(cmd.Context(), args[0], strategy)
	if err != nil {
		exitErr("normalize", err)
	}

	b, _ := json.Marshal(run)
	fmt.Println(string(b))
}
