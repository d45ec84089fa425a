package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/middleware"
)

// statusForCode maps domain error codes to HTTP statuses
var statusForCode = map[string]int{
	domain.ErrCodeValidation:            http.StatusBadRequest,
	domain.ErrCodeInvalidInput:          http.StatusBadRequest,
	domain.ErrCodeHlaResolution:         http.StatusUnprocessableEntity,
	domain.ErrCodeInvalidHla:            http.StatusUnprocessableEntity,
	domain.ErrCodeCombinatorialOverflow: http.StatusUnprocessableEntity,
	domain.ErrCodePredictionImpossible:  http.StatusUnprocessableEntity,
	domain.ErrCodeFrequencySetNotFound:  http.StatusNotFound,
	domain.ErrCodeNotFound:              http.StatusNotFound,
	domain.ErrCodeTimeout:               http.StatusGatewayTimeout,
}

// writeError renders err as a domain.APIError
func (s *Server) writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	if code == domain.ErrCodeInternalServer &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		code = domain.ErrCodeTimeout
	}

	status, ok := statusForCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
			"path":           c.Request.URL.Path,
		}).WithError(err).Error("Request failed")
		message = "internal server error"
	}

	apiErr := domain.NewAPIError(code, message, "", c.GetString(middleware.CorrelationIDKey))
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		apiErr.Details = validationErr.Field
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apiErr)
}
