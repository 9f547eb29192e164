package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emulab/frametrace/internal/aggregate"
	"github.com/emulab/frametrace/internal/keymap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "aggregate <event-log>",
		Short: "Aggregate a raw event log into frame-set records",
		Long: "Parse a raw emulator event log, group rows into frame sets, and\n" +
			"write one record directory per frame set under the data dir.",
		Args: cobra.ExactArgs(1),
		Run:  runAggregate,
	}

	cmd.Flags().String("key-map", "", "Path to game key-mapping config (required)")
	cmd.Flags().String("session", "", "Session UUID (default: generate a new one)")
	cmd.Flags().String("snapshots", "", "Snapshot source directory to associate")
	cmd.Flags().Bool("keep-snapshots", false, "Do not purge the snapshot source after association")
	cmd.Flags().Bool("legacy", false, "Parse the legacy 10-column log layout")

	cmd.MarkFlagRequired("key-map")

	RootCmd.AddCommand(cmd)
}

func runAggregate(cmd *cobra.Command, args []string) {
	keyMapPath, _ := cmd.Flags().GetString("key-map")
	session, _ := cmd.Flags().GetString("session")
	snapshots, _ := cmd.Flags().GetString("snapshots")
	keep, _ := cmd.Flags().GetBool("keep-snapshots")
	legacy, _ := cmd.Flags().GetBool("legacy")

	keys, err := keymap.Load(keyMapPath)
	if err != nil {
		exitErr("load key map", err)
	}

	if session == "" {
		session = uuid.NewString()
	} else if err := uuid.Validate(session); err != nil {
		exitErr("aggregate", fmt.Errorf("invalid session uuid %q: %w", session, err))
	}

	agg := aggregate.New(keys, logger, aggregate.Options{
		Legacy:        legacy,
		SnapshotsDir:  snapshots,
		KeepSnapshots: keep,
	})

	res, err := agg.Run(args[0], cfg.DataDir, session)
	if err != nil {
		exitErr("aggregate", err)
	}

	b, _ := json.Marshal(res)
	fmt.Println(string(b))
}
