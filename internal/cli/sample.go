package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emulab/frametrace/internal/sampler"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sample <session-uuid>",
		Short: "Generate leakage-safe training samples for a session",
		Long: "Downsample repeated-label runs, split train/test with a temporal\n" +
			"gap, and write JSONL training files.",
		Args: cobra.ExactArgs(1),
		Run:  runSample,
	}

	cmd.Flags().StringP("output-dir", "o", "training_data", "Output directory for JSONL files")
	cmd.Flags().String("prefix", "samples", "Output file prefix")
	cmd.Flags().String("sample-format", sampler.FormatPairs, "Sample format: pairs or messages")
	cmd.Flags().StringSlice("inputs", nil, "Input fields (default: memory_changes,buttons)")
	cmd.Flags().StringSlice("outputs", nil, "Output fields (default: description)")
	cmd.Flags().StringSlice("memory-fields", nil, "Memory-change fields (default: address,prev_val,curr_val)")
	cmd.Flags().IntP("window", "w", 0, "Aggregate windows of this many frame sets (0 = per-unit)")
	cmd.Flags().Bool("no-downsample", false, "Keep long repeated-label runs intact")
	cmd.Flags().Int("max-consecutive", 0, "Repeated-label run cap (default from config)")
	cmd.Flags().Int("min-gap", 0, "Minimum train/test frame-set gap (default from config)")
	cmd.Flags().Float64("test-fraction", -1, "Test partition fraction (default from config)")
	cmd.Flags().String("target-field", "context", "Label field used for downsampling")

	RootCmd.AddCommand(cmd)
}

func runSample(cmd *cobra.Command, args []string) {
	outputDir, _ := cmd.Flags().GetString("output-dir")
	prefix, _ := cmd.Flags().GetString("prefix")
	format, _ := cmd.Flags().GetString("sample-format")
	inputs, _ := cmd.Flags().GetStringSlice("inputs")
	outputs, _ := cmd.Flags().GetStringSlice("outputs")
	memFields, _ := cmd.Flags().GetStringSlice("memory-fields")
	window, _ := cmd.Flags().GetInt("window")
	noDownsample, _ := cmd.Flags().GetBool("no-downsample")
	maxConsecutive, _ := cmd.Flags().GetInt("max-consecutive")
	minGap, _ := cmd.Flags().GetInt("min-gap")
	testFraction, _ := cmd.Flags().GetFloat64("test-fraction")
	targetField, _ := cmd.Flags().GetString("target-field")

	if window == 0 {
		window = cfg.Sampler.WindowSize
	}
	if maxConsecutive == 0 {
		maxConsecutive = cfg.Sampler.MaxConsecutive
	}
	if minGap == 0 {
		minGap = cfg.Sampler.MinGap
	}
	if testFraction < 0 {
		testFraction = cfg.Sampler.TestFraction
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.TrainingRecords(cmd.Context(), args[0])
	if err != nil {
		exitErr("load training records", err)
	}
	if len(records) == 0 {
		exitErr("sample", fmt.Errorf("no annotated frame sets for session %s", args[0]))
	}

	smp := sampler.New(sampler.Config{
		InputFields:    inputs,
		OutputFields:   outputs,
		MemoryFields:   memFields,
		WindowSize:     window,
		Downsample:     !noDownsample,
		MaxConsecutive: maxConsecutive,
		TargetField:    targetField,
		TestFraction:   testFraction,
		MinGap:         minGap,
	}, logger)

	ds := smp.Build(records)

	trainPath, testPath, err := sampler.WriteFiles(outputDir, prefix, ds, format)
	if err != nil {
		exitErr("write samples", err)
	}

	summary := map[string]any{
		"session_uuid":  args[0],
		"train_samples": len(ds.Train),
		"test_samples":  len(ds.Test),
		"effective_gap": ds.Split.EffectiveGap,
		"tried_gaps":    ds.Split.TriedGaps,
		"train_file":    trainPath,
		"test_file":     testPath,
	}
	b, _ := json.Marshal(summary)
	fmt.Println(string(b))
}
