package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/maintkg/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/maintkg/backend/internal/server/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/query"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// QueryGraphHandler runs an explicit traversal pattern.
func QueryGraphHandler(c echo.Context) error {
	type queryBody struct {
		store.Pattern
		AsOf int64 `json:"as_of" validate:"min=0"`
	}

	app := c.(*middleware.AppContext).App

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return util.BadRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return util.BadRequest(c, err.Error())
	}

	res, err := app.Engine.Query(c.Request().Context(), data.Pattern, data.AsOf)
	if err != nil {
		return util.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// AnswerQuestionHandler answers a natural-language question. Unresolvable
// questions and timeouts are part of the answer, not errors.
func AnswerQuestionHandler(c echo.Context) error {
	type questionBody struct {
		Question string `json:"question" validate:"required"`
		Trace    bool   `json:"trace"`
	}
	type answerResponse struct {
		query.Answer
		Trace *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	app := c.(*middleware.AppContext).App

	data := new(questionBody)
	if err := c.Bind(data); err != nil {
		return util.BadRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return util.BadRequest(c, err.Error())
	}

	var opts []query.AnswerOption
	var trace *query.QueryTrace
	if data.Trace {
		trace = query.NewQueryTrace()
		opts = append(opts, query.WithTrace(trace))
	}

	res := answerResponse{Answer: app.Engine.Answer(c.Request().Context(), data.Question, opts...)}
	if trace != nil {
		snap := trace.Snapshot()
		res.Trace = &snap
	}
	return c.JSON(http.StatusOK, res)
}
