package util

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidDocument),
		errors.Is(err, store.ErrInvalidPattern):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnknownVersion):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrStaleDocument),
		errors.Is(err, graph.ErrUpdateInProgress):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Error writes err as a JSON error body.
func Error(c echo.Context, err error) error {
	return c.JSON(StatusFor(err), map[string]string{"error": err.Error()})
}

// BadRequest writes a 400 with msg.
func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
