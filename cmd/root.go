package cmd

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "jobmatch"
)

type Config struct {
	UserID   string          `mapstructure:"user-id"`
	Database *DatabaseConfig `mapstructure:"database"`
	Redis    *RedisConfig    `mapstructure:"redis"`
	Usage    *UsageConfig    `mapstructure:"usage"`
	Quota    *QuotaConfig    `mapstructure:"quota"`
	AI       *AIConfig       `mapstructure:"ai"`
	Scoring  *ScoringConfig  `mapstructure:"scoring"`
	Serve    *ServeConfig    `mapstructure:"serve"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	URLFile string `mapstructure:"url-file"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type UsageConfig struct {
	// Sink is one of sqlite, postgres or log.
	Sink       string `mapstructure:"sink"`
	SQLitePath string `mapstructure:"sqlite-path"`
	Buffer     int    `mapstructure:"buffer"`
}

type QuotaConfig struct {
	Limits map[string]int `mapstructure:"limits"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string  `mapstructure:"api-key"`
	APIKeyFile        string  `mapstructure:"api-key-file"`
	APIKeyEnv         string  `mapstructure:"api-key-env"`
	Model             string  `mapstructure:"model"`
	MaxRetries        int     `mapstructure:"max-retries"`
	MaxLogLength      int     `mapstructure:"max-log-length"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
}

type ScoringConfig struct {
	VocabularyFile string `mapstructure:"vocabulary-file"`
}

type ServeConfig struct {
	Listen string `mapstructure:"listen"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobmatch scores how well a job fits a candidate profile and refines the score with Gemini",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobmatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetEnvPrefix("JOBMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.api-key-env", "GEMINI_API_KEY")
	viper.SetDefault("ai.gemini.max-retries", 1)
	viper.SetDefault("usage.sink", "sqlite")
	viper.SetDefault("usage.sqlite-path", "jobmatch-usage.db")
	viper.SetDefault("usage.buffer", 256)
	viper.SetDefault("serve.listen", ":8080")

	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{
		"user-id", "database.url", "database.url-file", "database.migrate", "redis.url",
		"ai.timeout", "ai.gemini.api-key-file", "ai.gemini.model",
	} {
		if err := viper.BindEnv(key); err != nil {
			log.Fatalf("binding environment variable for %s: %v", key, err)
		}
	}
}

func initConfig() {
	// version does not need a config.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// A missing default config is fine: everything can come from the environment.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.Database == nil {
		config.Database = &DatabaseConfig{}
	}
	if config.Usage == nil {
		config.Usage = &UsageConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}

	return config, nil
}
