package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
)

// toHTTPError maps domain errors to status codes. Unknown errors become a
// 500 without their message.
func toHTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(verrs)).SetInternal(err)
	}

	switch {
	case errors.Is(err, chat.ErrInvalidRequest),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, ingest.ErrNoSummarizationModel):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, metadata.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case errors.Is(err, chat.ErrQueryTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetInternal(err)
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// errorHandler writes ErrorResponse bodies.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he := toHTTPError(err)
	ctx := c.Request().Context()
	if he.Code >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed",
			zap.String("route", c.Path()),
			zap.Int("status", he.Code),
			zap.Error(err))
	}

	msg, ok := he.Message.(string)
	if !ok {
		msg = fmt.Sprint(he.Message)
	}
	body := ErrorResponse{
		Error:     msg,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, body)
	}
	if err != nil {
		s.logger.Warn(ctx, "writing error response failed", zap.Error(err))
	}
}
