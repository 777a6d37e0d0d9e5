package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/imrishuroy/session-leaderboard/internal/auth"
	"github.com/imrishuroy/session-leaderboard/internal/aws"
	"github.com/imrishuroy/session-leaderboard/internal/config"
	"github.com/imrishuroy/session-leaderboard/internal/handlers"
	"github.com/imrishuroy/session-leaderboard/internal/leaderboard"
	"github.com/imrishuroy/session-leaderboard/internal/logging"
	"github.com/imrishuroy/session-leaderboard/internal/sessions"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterSessionRoutes(r, cfg)

	return r
}

func newHandlerConfig(cfg *config.Config, clients *aws.AWSClients) handlers.HandlerConfig {
	store := sessions.NewStore(clients.DynamoDB, cfg.SessionsTable, cfg.LeaderboardIndex)

	opts := []sessions.RecorderOption{sessions.WithClientTimestamps(cfg.AcceptClientTimestamps)}
	if cfg.SessionEventsQueueURL != "" {
		publisher := aws.NewPublisher(clients.SQS, cfg.SessionEventsQueueURL)
		opts = append(opts, sessions.WithNotifier(sessions.NewQueueNotifier(publisher)))
	}

	return handlers.HandlerConfig{
		Recorder:         sessions.NewRecorder(store, opts...),
		Ranker:           leaderboard.NewRanker(store, cfg.LeaderboardPageSize),
		Verifier:         auth.NewJWTVerifier(cfg.AuthJWTSecret),
		LeaderboardLimit: cfg.LeaderboardLimit,
	}
}

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

	r := setupRouter(newHandlerConfig(cfg, clients))

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		log.Info().Str("addr", cfg.Addr).Msg("running local server")
		if err := r.Run(cfg.Addr); err != nil {
			log.Fatal().Err(err).Msg("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		// ProxyWithContext keeps the API Gateway request context (and its authorizer claims)
		// reachable from handlers.
		return adapter.ProxyWithContext(ctx, req)
	})
}
