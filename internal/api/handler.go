package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/pile-gateway/internal/dispatch"
	"github.com/taoyao-code/pile-gateway/internal/ordersession"
	"github.com/taoyao-code/pile-gateway/internal/session"
	"github.com/taoyao-code/pile-gateway/internal/storage"
	redisstorage "github.com/taoyao-code/pile-gateway/internal/storage/redis"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	// maxWait 同步等待设备回执的上限
	maxWait = 60 * time.Second
)

// PresenceReader 跨实例在线影子查询
type PresenceReader interface {
	Lookup(ctx context.Context, imei string) (*redisstorage.PresenceRecord, error)
}

// Handler 管理接口：会话、命令下发、设备与审计查询
type Handler struct {
	registry *session.Registry
	facade   *dispatch.Facade
	devices  storage.DeviceStore
	cmdlogs  storage.CmdLogReader
	presence PresenceReader
	logger   *zap.Logger
}

// Deps presence 与 cmdlogs 可为空
type Deps struct {
	Registry *session.Registry
	Facade   *dispatch.Facade
	Devices  storage.DeviceStore
	CmdLogs  storage.CmdLogReader
	Presence PresenceReader
	Logger   *zap.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		registry: d.Registry,
		facade:   d.Facade,
		devices:  d.Devices,
		cmdlogs:  d.CmdLogs,
		presence: d.Presence,
		logger:   d.Logger,
	}
}

// StartRequest 开始充电请求体
type StartRequest struct {
	OrderID         uint32 `json:"orderId" binding:"required"`
	StartMode       uint8  `json:"startMode"`
	CardID          uint32 `json:"cardId"`
	ChargingMode    uint8  `json:"chargingMode"`
	ChargingParam   uint32 `json:"chargingParam"`
	AvailableAmount uint32 `json:"availableAmount"`
	WaitMs          int    `json:"waitMs"`
}

// StopRequest 停止充电请求体
type StopRequest struct {
	OrderID uint32 `json:"orderId" binding:"required"`
	WaitMs  int    `json:"waitMs"`
}

// ListSessions
// @Summary 在线会话列表
// @Tags 会话
// @Produce json
// @Security ApiKeyAuth
// @Router /api/sessions [get]
func (h *Handler) ListSessions(c *gin.Context) {
	snaps := h.registry.Snapshots()
	c.JSON(http.StatusOK, gin.H{"count": len(snaps), "sessions": snaps})
}

// GetSession
// @Summary 查询单个设备会话
// @Tags 会话
// @Param imei path string true "设备 IMEI"
// @Router /api/sessions/{imei} [get]
func (h *Handler) GetSession(c *gin.Context) {
	snap, ok := h.registry.Get(c.Param("imei"))
	if !ok {
		writeError(c, dispatch.ErrDeviceOffline)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// StartCharging
// @Summary 下发开始充电（0x83）
// @Tags 命令
// @Param imei path string true "设备 IMEI"
// @Param port path int true "端口号"
// @Router /api/devices/{imei}/ports/{port}/start [post]
func (h *Handler) StartCharging(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	var body StartRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	h.execute(c, dispatch.Request{
		Identity:        c.Param("imei"),
		Action:          dispatch.ActionStart,
		Port:            port,
		OrderID:         body.OrderID,
		StartMode:       body.StartMode,
		CardID:          body.CardID,
		ChargingMode:    body.ChargingMode,
		ChargingParam:   body.ChargingParam,
		AvailableAmount: body.AvailableAmount,
		Wait:            waitDuration(body.WaitMs),
	})
}

// StopCharging
// @Summary 下发停止充电（0x84）
// @Tags 命令
// @Router /api/devices/{imei}/ports/{port}/stop [post]
func (h *Handler) StopCharging(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	var body StopRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	h.execute(c, dispatch.Request{
		Identity: c.Param("imei"),
		Action:   dispatch.ActionStop,
		Port:     port,
		OrderID:  body.OrderID,
		Wait:     waitDuration(body.WaitMs),
	})
}

// QueryPort
// @Summary 查询端口数据（0x88），结果经事件流上报
// @Tags 命令
// @Router /api/devices/{imei}/ports/{port}/query [post]
func (h *Handler) QueryPort(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	h.execute(c, dispatch.Request{Identity: c.Param("imei"), Action: dispatch.ActionQuery, Port: port})
}

func (h *Handler) execute(c *gin.Context, req dispatch.Request) {
	res, err := h.facade.Execute(c.Request.Context(), req)
	if err != nil {
		h.logger.Info("api command failed",
			zap.String("imei", req.Identity),
			zap.String("action", req.Action),
			zap.Uint8("port", req.Port),
			zap.Uint32("order_id", req.OrderID),
			zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListDevices
// @Summary 设备列表（分页）
// @Tags 设备
// @Param limit query int false "每页数量(默认100)"
// @Param offset query int false "偏移量(默认0)"
// @Router /api/devices [get]
func (h *Handler) ListDevices(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	list, err := h.devices.ListDevices(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": list, "limit": limit, "offset": offset})
}

// GetDevice
// @Summary 设备档案与端口状态，附带本实例在线状态
// @Tags 设备
// @Router /api/devices/{imei} [get]
func (h *Handler) GetDevice(c *gin.Context) {
	imei := c.Param("imei")
	dev, err := h.devices.GetDevice(c.Request.Context(), imei)
	if err != nil {
		writeError(c, err)
		return
	}
	_, online := h.registry.EndpointFor(imei)
	c.JSON(http.StatusOK, gin.H{"device": dev, "online": online})
}

// GetPresence
// @Summary 本实例会话与跨实例在线影子
// @Tags 设备
// @Router /api/devices/{imei}/presence [get]
func (h *Handler) GetPresence(c *gin.Context) {
	imei := c.Param("imei")
	resp := gin.H{"imei": imei}
	if snap, ok := h.registry.Get(imei); ok {
		resp["local"] = snap
	}
	if h.presence != nil {
		rec, err := h.presence.Lookup(c.Request.Context(), imei)
		switch {
		case err == nil:
			resp["shadow"] = rec
		case errors.Is(err, redisstorage.ErrNotFound):
		default:
			h.logger.Warn("presence lookup failed", zap.String("imei", imei), zap.Error(err))
			resp["shadowError"] = err.Error()
		}
	}
	_, hasLocal := resp["local"]
	_, hasShadow := resp["shadow"]
	resp["online"] = hasLocal || hasShadow
	c.JSON(http.StatusOK, resp)
}

// ListCommands
// @Summary 设备命令审计（最近在前）
// @Tags 设备
// @Param limit query int false "条数(默认50)"
// @Router /api/devices/{imei}/commands [get]
func (h *Handler) ListCommands(c *gin.Context) {
	if h.cmdlogs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "command log disabled"})
		return
	}
	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}
	logs, err := h.cmdlogs.ListCmdLogs(c.Request.Context(), c.Param("imei"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imei": c.Param("imei"), "commands": logs})
}

// writeError 领域错误到 HTTP 状态码
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrInvalidCommand):
		code = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrDeviceOffline), errors.Is(err, storage.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dispatch.ErrConnectionLost), errors.Is(err, ordersession.ErrPendingSuperseded):
		code = http.StatusConflict
	case errors.Is(err, ordersession.ErrPendingExpired), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		code = 499
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func portParam(c *gin.Context) (uint8, bool) {
	n, err := strconv.ParseUint(c.Param("port"), 10, 8)
	if err != nil || n == 0 {
		badRequest(c, errors.New("port must be 1-255"))
		return 0, false
	}
	return uint8(n), true
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func waitDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxWait {
		d = maxWait
	}
	return d
}
