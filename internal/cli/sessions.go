package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List ingested sessions",
		Args:  cobra.NoArgs,
		Run:   runSessions,
	}
	RootCmd.AddCommand(cmd)
}

func runSessions(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sessions, err := s.Sessions(cmd.Context())
	if err != nil {
		exitErr("list sessions", err)
	}

	if formatFlag == "json" {
		b, _ := json.MarshalIndent(sessions, "", "  ")
		fmt.Println(string(b))
		return
	}
	for _, sess := range sessions {
		fmt.Printf("%s\t%d frame sets\t%s\n",
			sess.UUID, sess.Metadata.TotalFrameSets, sess.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
