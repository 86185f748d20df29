package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/usecase"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	validate    *validator.Validate
	tileUseCase *usecase.TileUseCase
}

func NewHandler(v *validator.Validate, uc *usecase.TileUseCase) *Handler {
	return &Handler{
		validate:    v,
		tileUseCase: uc,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context, err error) {
	h.logger(c).Error("internal http_server error",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"user_agent", c.Request.UserAgent(),
		"ip", c.ClientIP(),
		"error", err,
	)
	c.Error(err)

	h.RespondWithError(c, http.StatusInternalServerError, InternalServerError)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}

func (h *Handler) RespondWithError(c *gin.Context, code int, err error) {
	h.RespondWithJSON(c, code, err.Error(), nil)
}

// logger returns the request logger set by the router middleware.
func (h *Handler) logger(c *gin.Context) logger.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context())
}
