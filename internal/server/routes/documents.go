package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/maintkg/backend/internal/queue"
	"github.com/OFFIS-RIT/maintkg/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/maintkg/backend/internal/server/util"
	"github.com/OFFIS-RIT/maintkg/backend/internal/storage"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type queuedResponse struct {
	CorrelationID string `json:"correlation_id"`
	Key           string `json:"key,omitempty"`
}

// IngestDocumentHandler ingests a normalized document. In async mode the
// document is stored in S3 and handed to the worker.
func IngestDocumentHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	doc := new(common.Document)
	if err := c.Bind(doc); err != nil {
		return util.BadRequest(c, "Invalid request body")
	}
	if err := app.Engine.Validate(*doc); err != nil {
		return util.Error(c, err)
	}

	if !app.Async {
		report, err := app.Engine.Ingest(ctx, *doc)
		if err != nil {
			return util.Error(c, err)
		}
		return c.JSON(http.StatusOK, report)
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return util.Error(c, err)
	}
	key, err := storage.PutDocument(ctx, app.S3, app.Bucket, *doc)
	if err != nil {
		return util.Error(c, err)
	}
	msg, err := json.Marshal(queue.IngestMsg{Key: key, CorrelationID: correlationID})
	if err != nil {
		return util.Error(c, err)
	}
	if err := queue.PublishFIFO(ctx, app.Queue, queue.IngestQueue, msg); err != nil {
		return util.Error(c, err)
	}

	logger.Info("[Server][Documents] ingestion queued", "document", doc.ID, "version", doc.Version, "correlation_id", correlationID)
	return c.JSON(http.StatusAccepted, queuedResponse{CorrelationID: correlationID, Key: key})
}

// RemoveDocumentHandler retracts everything a document asserted. In async
// mode the worker also deletes the stored payloads once the removal committed.
func RemoveDocumentHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	id := c.Param("id")

	if !app.Async {
		report, err := app.Engine.Remove(ctx, id)
		if err != nil {
			return util.Error(c, err)
		}
		return c.JSON(http.StatusOK, report)
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return util.Error(c, err)
	}
	msg, err := json.Marshal(queue.RemoveMsg{DocumentID: id, CorrelationID: correlationID})
	if err != nil {
		return util.Error(c, err)
	}
	if err := queue.PublishFIFO(ctx, app.Queue, queue.RemoveQueue, msg); err != nil {
		return util.Error(c, err)
	}
	logger.Info("[Server][Documents] removal queued", "document", id, "correlation_id", correlationID)
	return c.JSON(http.StatusAccepted, queuedResponse{CorrelationID: correlationID})
}

// GetDocumentsHandler lists the last ingested version of every document.
func GetDocumentsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	return c.JSON(http.StatusOK, app.Engine.Documents())
}

// GetVersionsHandler returns the version log.
func GetVersionsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	versions := app.Engine.Versions()
	if versions == nil {
		versions = []common.VersionEntry{}
	}
	return c.JSON(http.StatusOK, versions)
}
