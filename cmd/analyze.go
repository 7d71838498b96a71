package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/match"
	"github.com/spigell/jobmatch/internal/store"
)

const (
	PromptExit        = "exit"
	shutdownTimeout   = 10 * time.Second
	promptLabelLayout = "%s  %s @ %s  [%s, score %s]"
)

var errExit = errors.New("exit requested")

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze how well an application's job matches the user's profile",
	Run: func(cmd *cobra.Command, _ []string) {
		analyze(cmd)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("application", "a", "", "application id to analyze. Asks interactively when unset.")
	analyzeCmd.Flags().StringP("user", "u", "", "user id owning the application")

	viper.BindPFlag("user-id", analyzeCmd.Flags().Lookup("user"))
}

func analyze(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	userID := strings.TrimSpace(config.UserID)
	if userID == "" {
		logger.Fatal("user id is required",
			zap.String("hint", "pass --user, set user-id in the config or JOBMATCH_USER_ID"),
		)
	}

	logger.Info("starting the jobmatch analysis", zap.String("version", version))

	p, err := newPipeline(ctx, config, prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Fatal("preparing the analysis pipeline", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		p.Close(shutdownCtx)
	}()

	applicationID := strings.TrimSpace(cmd.Flag("application").Value.String())
	if applicationID == "" {
		applicationID, err = chooseApplication(ctx, p.store, userID)
		if errors.Is(err, errExit) {
			logger.Info("exiting", zap.String("reason", "no application chosen"))
			return
		}
		if err != nil {
			logger.Error("choosing an application", zap.Error(err))
			return
		}
	}

	analysis, err := p.orchestrator.AnalyzeJobMatch(ctx, userID, applicationID)
	if err != nil {
		desc := match.Describe(err)
		fields := []zap.Field{zap.String("code", desc.Code), zap.String("reason", desc.Reason)}
		if desc.RetryAfter > 0 {
			fields = append(fields, zap.Int("retry_after_seconds", desc.RetryAfter))
		}
		logger.Error("analysis failed", fields...)
		return
	}

	// do not bother error since the analysis is a plain struct
	pretty, _ := json.MarshalIndent(analysis, "", "  ")
	fmt.Println(string(pretty))
}

type applicationLister interface {
	ListApplications(ctx context.Context, userID string) ([]store.Application, error)
}

func chooseApplication(ctx context.Context, lister applicationLister, userID string) (string, error) {
	apps, err := lister.ListApplications(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(apps) == 0 {
		return "", fmt.Errorf("user %s has no applications", userID)
	}

	items := applicationLabels(apps)
	prompt := promptui.Select{
		Label: "Choose an application and press ENTER",
		Items: append(items, PromptExit),
		Size:  10,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		return "", err
	}
	if idx >= len(apps) {
		return "", errExit
	}

	return apps[idx].ID, nil
}

func applicationLabels(apps []store.Application) []string {
	items := make([]string, 0, len(apps))
	for _, a := range apps {
		score := "-"
		if a.MatchScore != nil {
			score = fmt.Sprintf("%d", *a.MatchScore)
		}
		items = append(items, fmt.Sprintf(promptLabelLayout, a.ID, a.JobTitle, a.Company, a.Status, score))
	}
	return items
}
