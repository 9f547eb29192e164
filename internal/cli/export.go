package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export <session-uuid>",
		Short: "Export a session's annotated frame sets as JSON",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}
	cmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.TrainingRecords(cmd.Context(), args[0])
	if err != nil {
		exitErr("load training records", err)
	}

	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		exitErr("marshal records", err)
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		if err := os.WriteFile(output, b, 0o644); err != nil {
			exitErr("write export", err)
		}
		logger.Info("exported session", "session", args[0], "records", len(records), "file", output)
		return
	}
	fmt.Println(string(b))
}
