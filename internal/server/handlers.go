package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voxserve/voxserve/internal/transcribe"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if !s.ready.Load() {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{
			Status:  "initializing",
			Version: s.version.Version,
		})
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: s.version.Version,
	})
}

func (s *Server) handleTranscribe(c echo.Context) error {
	if !s.ready.Load() {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Detail: "model is still loading"})
	}

	quick, err := boolQuery(c, "quick", true)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
	}
	anyLang, err := boolQuery(c, "any_lang", true)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
	}
	forcedLanguage := c.QueryParam("language")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: "multipart field 'file' is required"})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("open upload: %v", err)})
	}
	defer src.Close()

	raw, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: fmt.Sprintf("read upload: %v", err)})
	}

	result, err := s.transcriber.Transcribe(c.Request().Context(), transcribe.Request{
		Raw:            raw,
		Filename:       fileHeader.Filename,
		Quick:          quick,
		AnyLang:        anyLang,
		ForcedLanguage: forcedLanguage,
	})
	if err != nil {
		kind := transcribe.KindOf(err)
		s.log.Debug("transcription request failed",
			zap.String("kind", kind.String()),
			zap.String("filename", fileHeader.Filename),
			zap.Error(err))
		return c.JSON(statusFor(kind), errorResponse{Detail: kind.String()})
	}

	return c.JSON(http.StatusOK, result)
}

// statusFor maps the orchestrator's taxonomy onto HTTP statuses: bad audio
// is the caller's fault, everything else is the service's.
func statusFor(kind transcribe.Kind) int {
	if kind.BadInput() {
		return http.StatusBadRequest
	}
	if kind == transcribe.KindCanceled {
		// The client is gone; the status is recorded for the access log.
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func boolQuery(c echo.Context, name string, fallback bool) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("query parameter %q must be a boolean, got %q", name, raw)
	}
	return value, nil
}
