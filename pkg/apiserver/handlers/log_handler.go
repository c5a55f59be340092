package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/logger"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
)

// LogSource is the read side of the store sink.
type LogSource interface {
	Query(ctx context.Context, spec model.QuerySpec) (sink.Result, error)
	Stream(ctx context.Context, opts sink.StreamOptions) *sink.Stream
}

type LogHandler struct {
	logs     LogSource
	pageSize int
	events   *logger.Logger
	logger   *zap.Logger
}

// NewLogHandler serves logs from the source. events, when set, records the
// messages websocket clients send.
func NewLogHandler(logs LogSource, pageSize int, events *logger.Logger, zl *zap.Logger) *LogHandler {
	if pageSize <= 0 {
		pageSize = model.DefaultQueryLimit
	}
	return &LogHandler{logs: logs, pageSize: pageSize, events: events, logger: zl}
}

// List returns one page of documents matching the query string.
func (h *LogHandler) List(c *gin.Context) {
	spec, err := h.querySpec(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.logs.Query(c.Request.Context(), spec)
	if err != nil {
		h.logger.Error("Failed to query logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query logs"})
		return
	}
	c.JSON(http.StatusOK, result.Rows())
}

// ByBlock returns the same page grouped by logblock.
func (h *LogHandler) ByBlock(c *gin.Context) {
	spec, err := h.querySpec(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec.Group = model.GroupByLogblock

	result, err := h.logs.Query(c.Request.Context(), spec)
	if err != nil {
		h.logger.Error("Failed to query log groups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query logs"})
		return
	}
	c.JSON(http.StatusOK, result.Rows())
}

func (h *LogHandler) querySpec(c *gin.Context) (model.QuerySpec, error) {
	spec := model.QuerySpec{
		Context:  strings.TrimSpace(c.Query("context")),
		Logblock: strings.TrimSpace(c.Query("logblock")),
		Content:  c.Query("content"),
		Source:   strings.TrimSpace(c.Query("source")),
		Order:    model.Order(strings.ToLower(strings.TrimSpace(c.Query("order")))),
		Limit:    h.pageSize,
	}

	var err error
	if spec.Level, err = parseLevel(c.Query("level")); err != nil {
		return spec, err
	}
	if spec.Type, err = parseType(strings.TrimSpace(c.Query("type"))); err != nil {
		return spec, err
	}
	if spec.From, err = parseTime(strings.TrimSpace(c.Query("from"))); err != nil {
		return spec, err
	}
	if spec.Until, err = parseTime(strings.TrimSpace(c.Query("until"))); err != nil {
		return spec, err
	}
	spec.Fields = parseFields(c.Query("fields"))
	if spec.Start, err = parsePage(strings.TrimSpace(c.Query("page")), h.pageSize); err != nil {
		return spec, err
	}
	if _, err := spec.Normalize(time.Now()); err != nil {
		return spec, err
	}
	return spec, nil
}
