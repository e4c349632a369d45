package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"netsight-go/internal/analyst"
)

const defaultTelemetryLimit = 200

// TelemetryHandler 只读地浏览模拟器生成的遥测数据。
type TelemetryHandler struct {
	store *analyst.Store
}

// NewTelemetryHandler 创建一个新的 TelemetryHandler 实例。
func NewTelemetryHandler(store *analyst.Store) *TelemetryHandler {
	return &TelemetryHandler{store: store}
}

func (h *TelemetryHandler) ListCities(c *gin.Context) {
	cities, err := h.store.Cities()
	if err != nil {
		failWith(c, "ListCities", err)
		return
	}
	ok(c, "获取城市列表成功", cities)
}

func (h *TelemetryHandler) ListCells(c *gin.Context) {
	cells, err := h.store.Cells(c.Param("city"))
	if err != nil {
		h.failTelemetry(c, "ListCells", err)
		return
	}
	ok(c, "获取基站列表成功", cells)
}

// CellSamples 返回某个基站最近的记录，limit 默认 200。
func (h *TelemetryHandler) CellSamples(c *gin.Context) {
	limit := defaultTelemetryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit 必须是正整数")
			return
		}
		limit = n
	}
	samples, err := h.store.Tail(c.Param("city"), c.Param("cell"), limit)
	if err != nil {
		h.failTelemetry(c, "CellSamples", err)
		return
	}
	ok(c, "获取遥测数据成功", samples)
}

func (h *TelemetryHandler) failTelemetry(c *gin.Context, op string, err error) {
	if errors.Is(err, analyst.ErrUnknownCell) {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	failWith(c, op, err)
}
