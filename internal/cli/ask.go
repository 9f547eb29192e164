package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emulab/frametrace/internal/queryengine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a natural-language question against the store",
		Long: "Match the question to a query template, run the generated SQL,\n" +
			"and print the results with a confidence score.",
		Args: cobra.MinimumNArgs(1),
		Run:  runAsk,
	}

	cmd.Flags().Bool("show-schema", false, "Print known contexts, scenes, and sample addresses instead of answering")
	cmd.Flags().Bool("show-sql", false, "Include the generated SQL in text output")

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if show, _ := cmd.Flags().GetBool("show-schema"); show {
		info, err := s.Introspect(cmd.Context())
		if err != nil {
			exitErr("introspect", err)
		}
		b, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(b))
		return
	}

	question := strings.Join(args, " ")
	resp := queryengine.New(s, logger).Answer(cmd.Context(), question)

	if formatFlag == "json" {
		b, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(b))
		return
	}

	if showSQL, _ := cmd.Flags().GetBool("show-sql"); showSQL {
		fmt.Printf("SQL: %s\n\n", resp.SQLQuery)
	}
	for _, row := range resp.Results {
		b, _ := json.Marshal(row)
		fmt.Println(string(b))
	}
	fmt.Printf("\n%s\n", resp.Explanation)
}
