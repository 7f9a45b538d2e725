package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/app"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/config"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/handlers"
)

func main() {
	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ConfigureLogging()

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init dependencies")
	}
	p := NewProcessor(a.Orchestrator)

	// WORKER_HTTP_ADDR serves /worker/generate for the API to forward to.
	if cfg.WorkerHTTPAddr != "" {
		if !cfg.RunLocal {
			gin.SetMode(gin.ReleaseMode)
		}
		r := handlers.NewRouter()
		handlers.RegisterWorkerRoutes(r, a.HandlerConfig())
		log.Info().Str("addr", cfg.WorkerHTTPAddr).Msg("running worker http server")
		if err := r.Run(cfg.WorkerHTTPAddr); err != nil {
			log.Fatal().Err(err).Msg("failed to run worker http server")
		}
		return
	}

	// RUN_LOCAL=true simulates a single SQS record from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			log.Fatal().Msg("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		ev := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := p.Handle(context.Background(), ev)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatal().Err(err).Int("failures", len(resp.BatchItemFailures)).Msg("local job failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
