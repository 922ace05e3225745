package server

import (
	"github.com/OFFIS-RIT/maintkg/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api")

	// Graph routes
	apiRoutes.GET("/graph", routes.GetGraphHandler)
	apiRoutes.GET("/graph/nodes/:id", routes.GetNodeHandler)
	apiRoutes.POST("/graph/query", routes.QueryGraphHandler)
	apiRoutes.GET("/entities", routes.SearchEntitiesHandler)

	// Question routes
	apiRoutes.POST("/questions", routes.AnswerQuestionHandler)

	// Document routes
	apiRoutes.GET("/documents", routes.GetDocumentsHandler)
	apiRoutes.POST("/documents", routes.IngestDocumentHandler)
	apiRoutes.DELETE("/documents/:id", routes.RemoveDocumentHandler)

	// Version routes
	apiRoutes.GET("/versions", routes.GetVersionsHandler)
}
