// Worker consumes sign-up events from Kafka and creates the matching profile rows.
// Set KAFKA_BROKERS, SIGNUP_TOPIC, KAFKA_GROUP_ID and DATABASE_URL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"m-taji/platform/internal/config"
	"m-taji/platform/internal/db"
	"m-taji/platform/internal/events"
	"m-taji/platform/internal/logger"
	"m-taji/platform/internal/materializer"
	profilerepo "m-taji/platform/internal/profile/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("", "info", os.Stderr).Fatal().Err(err).Msg("config")
	}
	log := logger.Component(logger.New(cfg.Env, cfg.LogLevel, os.Stderr), "worker")

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer database.Close()

	consumer, err := events.NewKafkaConsumer(brokers, cfg.SignupTopic, cfg.KafkaGroupID)
	if err != nil {
		log.Fatal().Err(err).Msg("kafka")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("topic", cfg.SignupTopic).Str("group", cfg.KafkaGroupID).Msg("consuming")
	m := materializer.New(profilerepo.NewPostgresRepository(database), cfg.MaterializeDelay(), log)
	if err := m.Run(ctx, consumer); err != nil {
		log.Error().Err(err).Msg("stopped")
		return
	}
	log.Info().Msg("stopped")
}
