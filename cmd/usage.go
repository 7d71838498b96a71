package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/logger"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded calls of costed operations for a user",
	Run: func(cmd *cobra.Command, _ []string) {
		summarize(cmd)
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringP("user", "u", "", "user id to summarize")
	usageCmd.Flags().Duration("since", 24*time.Hour, "how far back to look")
}

func summarize(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	userID := strings.TrimSpace(cmd.Flag("user").Value.String())
	if userID == "" {
		userID = strings.TrimSpace(config.UserID)
	}
	if userID == "" {
		logger.Fatal("user id is required", zap.String("hint", "pass --user or set user-id in the config"))
	}

	since, err := cmd.Flags().GetDuration("since")
	if err != nil {
		logger.Fatal("parsing --since", zap.Error(err))
	}

	source, closeFn, err := summarizer(ctx, config)
	if err != nil {
		logger.Fatal("opening the usage log", zap.Error(err))
	}
	defer closeFn()

	summary, err := source.Summary(ctx, userID, time.Now().Add(-since))
	if err != nil {
		logger.Error("reading usage summary", zap.Error(err))
		return
	}

	pretty, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(pretty))
}
