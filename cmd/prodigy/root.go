package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iepathos/prodigy-sub010/internal/logging"
)

var (
	cfgFile    string
	jobFile    string
	debugFlag  bool
	log        *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "prodigy",
		Short: "Prodigy MapReduce execution core",
		Long: `Prodigy runs fault-tolerant, checkpointed Setup -> Map -> Reduce
pipelines over work items, dispatching each item to an isolated agent in
its own git worktree.`,
	}
)

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "ambient settings file (default: ./prodigy.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validateCmd)

	runCmd.Flags().StringVarP(&jobFile, "job", "j", "", "path to a job YAML file (required)")
	_ = runCmd.MarkFlagRequired("job")

	resumeCmd.Flags().StringVarP(&jobFile, "job", "j", "", "path to a job YAML file (required)")
	_ = resumeCmd.MarkFlagRequired("job")
	resumeCmd.Flags().String("job-id", "", "job id to resume from its latest checkpoint (defaults to the job file's id)")

	validateCmd.Flags().StringVarP(&jobFile, "job", "j", "", "path to a job YAML file (required)")
	_ = validateCmd.MarkFlagRequired("job")
}

func initLogging() {
	log = logging.New(debugFlag)
	viper.Set("debug", debugFlag)
}
