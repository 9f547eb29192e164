package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emulab/frametrace/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest <session-uuid>",
		Short: "Ingest a session's frame-set records into the store",
		Long: "Walk a session's record directories under the data dir and upsert\n" +
			"frame sets, memory changes and annotations into the store.",
		Args: cobra.ExactArgs(1),
		Run:  runIngest,
	}

	cmd.Flags().Bool("all", false, "Include frame sets without annotations")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.LoadSession(cmd.Context(), cfg.DataDir, args[0], store.LoadOptions{
		AnnotatedOnly: !all,
	})
	if err != nil {
		exitErr("ingest", err)
	}

	b, _ := json.Marshal(res)
	fmt.Println(string(b))
}
