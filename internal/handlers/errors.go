package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// writeError maps service errors onto the response envelope. Anything not
// listed is logged and reported as a 500 without the internal message.
func writeError(c *gin.Context, err error) {
	var insufficient *services.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		response.Error(c, response.NewPaymentRequired("insufficient credits", gin.H{
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		}))

	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, services.ErrProjectNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrLLMConfigNotFound):
		response.NotFound(c, err.Error())

	case errors.Is(err, services.ErrProjectForbidden),
		errors.Is(err, services.ErrUserDisabled):
		response.Forbidden(c, err.Error())

	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidRefreshToken),
		errors.Is(err, services.ErrRefreshTokenRevoked),
		errors.Is(err, services.ErrRefreshTokenExpired):
		response.Unauthorized(c, err.Error())

	case errors.Is(err, services.ErrUsernameTaken),
		errors.Is(err, services.ErrDuplicateGeneration),
		errors.Is(err, services.ErrPrepaidConsumed):
		response.Error(c, response.NewConflict(err.Error()))

	case errors.Is(err, services.ErrNoLLMConfig):
		response.Error(c, &response.AppError{HTTPStatus: http.StatusServiceUnavailable, Code: 503, Message: err.Error()})

	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidRealCost),
		errors.Is(err, services.ErrInvalidPrepaid),
		errors.Is(err, services.ErrInvalidUser),
		errors.Is(err, services.ErrMissingType),
		errors.Is(err, services.ErrInvalidStep),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrLastOwner),
		errors.Is(err, services.ErrInvalidUserRole),
		errors.Is(err, services.ErrModifySelf),
		errors.Is(err, services.ErrInvalidTierValue),
		errors.Is(err, services.ErrIncorrectOldPassword),
		errors.Is(err, services.ErrUnknownLLMProvider),
		errors.Is(err, services.ErrNegativeTokenPrice),
		errors.Is(err, services.ErrUnknownConfigKey),
		errors.Is(err, services.ErrInvalidConfigValue),
		errors.Is(err, services.ErrInvalidReportDate),
		errors.Is(err, services.ErrInvalidDateRange):
		response.BadRequest(c, err.Error())

	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		response.ServerError(c, "internal server error")
	}
}

// paramID parses a uint path parameter, writing a 400 on failure.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
