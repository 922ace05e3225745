package middleware

import (
	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

// App carries the dependencies every handler needs.
type App struct {
	Engine *engine.Engine
	// Queue and S3 are set when documents are ingested asynchronously by
	// the worker.
	Queue  *amqp091.Channel
	S3     *s3.Client
	Bucket string
	Async  bool
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
