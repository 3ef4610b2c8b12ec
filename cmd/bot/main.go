package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"guesser/internal/archive"
	"guesser/internal/chatlog"
	"guesser/internal/config"
	"guesser/internal/dataset"
	"guesser/internal/guesser"
	"guesser/internal/logging"
	"guesser/internal/scheduler"
	"guesser/internal/storage"
	"guesser/internal/telegram"
	"guesser/internal/trainer"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	logFile, err := logging.Setup(cfg.LogLevel, cfg.LogFilePath)
	if err != nil {
		log.Fatalf("failed to init logging: %v", err)
	}
	defer logFile.Close()

	store, err := storage.NewFile(cfg.DatasetPath, storage.Columns{Text: cfg.TextColumn, Author: cfg.AuthorColumn})
	if err != nil {
		log.Fatalf("failed to init dataset store: %v", err)
	}

	policy, err := cfg.Policy()
	if err != nil {
		log.Fatalf("invalid malformed row policy: %v", err)
	}
	validator := dataset.NewValidator(policy)

	opts := []archive.Option{archive.WithValidator(validator)}
	if cfg.FetchRate > 0 {
		opts = append(opts, archive.WithPacer(rate.NewLimiter(rate.Limit(cfg.FetchRate), 1)))
	}

	journal, err := chatlog.Open(cfg.ChatLogPath)
	if err != nil {
		log.Fatalf("failed to open chat log: %v", err)
	}
	defer journal.Close()

	runner := trainer.NewRunner(
		trainer.Command{Path: cfg.TrainCommand, Args: cfg.TrainArgs},
		trainer.Command{Path: cfg.PredictCommand, Args: cfg.PredictArgs},
	)

	svc, err := guesser.Open(store, archive.New(opts...), runner, validator)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(cfg.RetrainSchedule)
	sched.SetRetrainFunction(func(ctx context.Context) error {
		job, err := svc.Retrain(ctx)
		if errors.Is(err, guesser.ErrRetrainRunning) {
			return nil
		}
		if err != nil {
			return err
		}
		return job.Wait(ctx)
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	bot, err := telegram.New(cfg.TelegramBotToken, svc, journal, cfg.WorkingChatID, cfg.IsOperator)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	bot.Start(ctx)
}
