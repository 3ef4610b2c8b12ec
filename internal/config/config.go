package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/caarlos0/env/v6"

	"guesser/internal/dataset"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	// Chat whose messages get a prediction reply. 0 disables predictions.
	WorkingChatID int64 `env:"WORKING_CHAT_ID"`
	// Users allowed to run archive, remove and retrain. Empty means everyone.
	Operators []int64 `env:"OPERATORS" envSeparator:":"`

	// Dataset
	DatasetPath     string `env:"DATASET_PATH" envDefault:"data/dataset.csv"`
	TextColumn      string `env:"DATASET_TEXT_COLUMN" envDefault:"text"`
	AuthorColumn    string `env:"DATASET_AUTHOR_COLUMN" envDefault:"username"`
	MalformedPolicy string `env:"MALFORMED_POLICY" envDefault:"keep"`

	// Message journal
	ChatLogPath string  `env:"CHATLOG_PATH" envDefault:"data/chatlog.db"`
	FetchRate   float64 `env:"FETCH_RATE" envDefault:"0"`

	// External model processes
	TrainCommand   string   `env:"TRAIN_COMMAND" envDefault:"python3"`
	TrainArgs      []string `env:"TRAIN_ARGS" envSeparator:" " envDefault:"./python/train.py"`
	PredictCommand string   `env:"PREDICT_COMMAND" envDefault:"python3"`
	PredictArgs    []string `env:"PREDICT_ARGS" envSeparator:" " envDefault:"./predictor.py"`
	// Cron expression (UTC) for automatic retraining. Empty disables it.
	RetrainSchedule string `env:"RETRAIN_SCHEDULE"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFilePath string `env:"LOG_FILE_PATH" envDefault:"logs/guesser.log"`
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.FetchRate < 0 {
		return fmt.Errorf("FETCH_RATE must not be negative, got %v", c.FetchRate)
	}
	return nil
}

// Policy returns the configured malformed row policy.
func (c *Config) Policy() (dataset.Policy, error) {
	return dataset.ParsePolicy(c.MalformedPolicy)
}

// IsOperator reports whether userID may run dataset-changing commands.
func (c *Config) IsOperator(userID int64) bool {
	if len(c.Operators) == 0 {
		return true
	}
	for _, id := range c.Operators {
		if id == userID {
			return true
		}
	}
	return false
}
