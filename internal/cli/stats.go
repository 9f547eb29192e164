package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats [session-uuid]",
		Short: "Show row counts for the store or a single session",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var out any
	if len(args) == 1 {
		out, err = s.SessionStats(cmd.Context(), args[0])
	} else {
		out, err = s.Stats(cmd.Context())
	}
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
