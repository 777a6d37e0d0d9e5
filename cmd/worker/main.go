package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/imrishuroy/session-leaderboard/internal/aws"
	"github.com/imrishuroy/session-leaderboard/internal/config"
	"github.com/imrishuroy/session-leaderboard/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init aws clients")
	}

	p := NewProcessor(clients, cfg.ProcessedEventsTable, cfg.ProcessedEventsTTL, cfg.ProcessedEventsStaleAfter, cfg.MetricsNamespace)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"user_name":"local-user","session_id":"local-session","duration":"42.5","completed_at":"2024-05-01T10:00:00Z"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{
					MessageId: "local-1",
					Body:      testBody,
				},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Fatal().Err(err).Msg("local handler error")
		}
		return
	}

	lambda.Start(p.Handle)
}
