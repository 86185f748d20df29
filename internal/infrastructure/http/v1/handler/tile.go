package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/projection"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/usecase"
)

func (h *Handler) Tile(c *gin.Context) {
	l := h.logger(c)

	var req dto.TileURI
	if !h.bindURI(c, &req) {
		return
	}

	l.Debug("tile request", "z", req.Z, "x", req.X, "y", req.Y)

	t, err := h.tileUseCase.GetTile(c.Request.Context(), req.X, req.Y, req.Z)
	switch {
	case errors.Is(err, usecase.ErrOffMap):
		h.RespondWithError(c, http.StatusNotFound, err)
		return
	case errors.Is(err, usecase.ErrPending):
		c.Header("Retry-After", "1")
		h.RespondWithJSON(c, http.StatusAccepted, "tile is loading", dto.TileStatusResponse{
			URL:      t.URL(),
			X:        t.X(),
			Y:        t.Y(),
			Zoom:     t.Zoom(),
			State:    string(t.State()),
			Priority: t.Priority().String(),
		})
		return
	case errors.Is(err, usecase.ErrFetchFailed):
		l.Warn("tile fetch failed", "url", t.URL(), "error", err)
		h.RespondWithError(c, http.StatusBadGateway, err)
		return
	case err != nil:
		h.RespondWithInternalServerError(c, err)
		return
	}

	data := t.Data()
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (h *Handler) TileStatus(c *gin.Context) {
	var req dto.TileURI
	if !h.bindURI(c, &req) {
		return
	}

	status, err := h.tileUseCase.Status(req.X, req.Y, req.Z)
	if errors.Is(err, usecase.ErrOffMap) {
		h.RespondWithError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.RespondWithInternalServerError(c, err)
		return
	}

	resp := dto.TileStatusResponse{
		URL:      status.URL,
		X:        status.X,
		Y:        status.Y,
		Zoom:     status.Zoom,
		State:    string(status.State),
		Priority: status.Priority.String(),
	}
	if status.Err != nil {
		resp.Error = status.Err.Error()
	}

	h.RespondWithJSON(c, http.StatusOK, "tile status", resp)
}

func (h *Handler) Prefetch(c *gin.Context) {
	var req dto.TileURI
	if !h.bindURI(c, &req) {
		return
	}

	var query dto.PrefetchQuery
	if !h.bindQuery(c, &query) {
		return
	}

	urls, err := h.tileUseCase.Prefetch(req.X, req.Y, req.Z, query.Radius)
	if errors.Is(err, usecase.ErrOffMap) {
		h.RespondWithError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.RespondWithInternalServerError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusAccepted, "prefetch scheduled", dto.PrefetchResponse{
		Scheduled: len(urls),
		URLs:      urls,
	})
}

func (h *Handler) GeoPixel(c *gin.Context) {
	var query dto.PixelQuery
	if !h.bindQuery(c, &query) {
		return
	}

	pos := projection.GeoPosition{Latitude: *query.Lat, Longitude: *query.Lon}
	loc, err := h.tileUseCase.PixelFromGeo(pos, *query.Zoom)
	if errors.Is(err, usecase.ErrInvalidZoom) {
		h.RespondWithError(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		h.RespondWithInternalServerError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "pixel position", dto.PixelResponse{
		X:     loc.X,
		Y:     loc.Y,
		TileX: loc.TileX,
		TileY: loc.TileY,
	})
}

func (h *Handler) GeoPosition(c *gin.Context) {
	var query dto.PositionQuery
	if !h.bindQuery(c, &query) {
		return
	}

	pos, err := h.tileUseCase.GeoFromPixel(*query.X, *query.Y, *query.Zoom)
	if errors.Is(err, usecase.ErrInvalidZoom) {
		h.RespondWithError(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		h.RespondWithInternalServerError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "geo position", dto.PositionResponse{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
	})
}

func (h *Handler) CacheFlush(c *gin.Context) {
	written, err := h.tileUseCase.Flush()
	if err != nil {
		h.RespondWithInternalServerError(c, err)
		return
	}

	h.logger(c).Info("memory cache flushed", "written", written)
	h.RespondWithJSON(c, http.StatusOK, "cache flushed", dto.FlushResponse{Written: written})
}

func (h *Handler) bindURI(c *gin.Context, req any) bool {
	if err := c.ShouldBindUri(req); err != nil {
		h.logger(c).Warn("invalid path parameters", "path", c.Request.URL.Path, "error", err)
		h.RespondWithError(c, http.StatusBadRequest, ErrInvalidTileCoordinates)
		return false
	}
	return h.validateRequest(c, req)
}

func (h *Handler) bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		h.logger(c).Warn("invalid query parameters", "query", c.Request.URL.RawQuery, "error", err)
		h.RespondWithError(c, http.StatusBadRequest, err)
		return false
	}
	return h.validateRequest(c, req)
}

func (h *Handler) validateRequest(c *gin.Context, req any) bool {
	if err := h.validate.Struct(req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, err)
		return false
	}
	return true
}
