package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/app"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/config"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/handlers"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := handlers.NewRouter()
	handlers.RegisterAPIRoutes(r, cfg)
	return r
}

func main() {
	cfg, err := config.Load(config.RoleAPI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ConfigureLogging()

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init dependencies")
	}
	if !cfg.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	r := setupRouter(a.HandlerConfig())

	// RUN_LOCAL=true runs a plain HTTP server for development.
	if cfg.RunLocal {
		log.Info().Str("addr", cfg.ListenAddr).Bool("worker_forwarding", cfg.WorkerURL != "").Msg("running local server")
		if err := r.Run(cfg.ListenAddr); err != nil {
			log.Fatal().Err(err).Msg("failed to run local server")
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
