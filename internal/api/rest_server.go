// Package api HTTP-поверхность сервера мира: состояние, чанки, блоки,
// игроки, метрики процесса и административные правки.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/craft-world/internal/auth"
	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/middleware"
	"github.com/annel0/craft-world/internal/network"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
)

// MaxAdminEdits ограничение размера пакета POST /api/edits
const MaxAdminEdits = 4096

// WorldServer то, что API нужно от сервера синхронизации
type WorldServer interface {
	World() *world.World
	Players() []network.PlayerInfo
	SubmitEdits(ctx context.Context, edits []world.Edit) ([]world.Edit, error)
}

// RestServer представляет REST API сервер
type RestServer struct {
	router   *gin.Engine
	srv      WorldServer
	signer   *auth.Signer
	webhooks *WebhookManager
	metrics  *ServerMetrics
	logger   *logging.Logger

	http *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr     string          // адрес для запуска сервера
	Server   WorldServer     // сервер мира
	Signer   *auth.Signer    // nil или без секрета: административные маршруты отключены
	Webhooks *WebhookManager // nil: управление webhook'ами недоступно
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("craft-api"))
	router.Use(middleware.NewRequestLogger().Handler())
	router.Use(middleware.Prometheus())
	middleware.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:   router,
		srv:      cfg.Server,
		signer:   cfg.Signer,
		webhooks: cfg.Webhooks,
		metrics:  NewServerMetrics(),
		logger:   logging.GetComponentLogger("api"),
	}
	rs.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/world", rs.handleWorld)
		api.GET("/chunks/:p/:q", rs.handleChunk)
		api.GET("/chunks/:p/:q/edits", rs.handleChunkHistory)
		api.GET("/blocks/:x/:y/:z", rs.handleBlock)
		api.GET("/stats", rs.handleStats)
		api.GET("/players", rs.handlePlayers)
	}

	// Административные эндпоинты (только для админов)
	admin := api.Group("/")
	admin.Use(rs.jwtMiddleware(), rs.adminMiddleware())
	{
		admin.POST("/edits", rs.handleAdminEdits)
		admin.GET("/webhooks", rs.handleListWebhooks)
		admin.POST("/webhooks", rs.handleCreateWebhook)
		admin.DELETE("/webhooks/:id", rs.handleDeleteWebhook)
	}
}

// Handler http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("REST API слушает %s", rs.http.Addr)
	if err := rs.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает REST сервер, дожидаясь активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.http.Shutdown(ctx)
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"time":     time.Now().Unix(),
		"last_seq": rs.srv.World().LastSeq(),
	})
}

func (rs *RestServer) handleWorld(c *gin.Context) {
	w := rs.srv.World()
	cfg := w.Field().Config()
	c.JSON(http.StatusOK, gin.H{
		"seed":            cfg.Seed,
		"chunk_size":      vec.ChunkSize,
		"last_seq":        w.LastSeq(),
		"resident_chunks": w.Arena().Len(),
		"generations":     w.Generations(),
		"protocol":        protocol.Version,
		"noise":           cfg,
	})
}

type runJSON struct {
	LX       int    `json:"lx"`
	LZ       int    `json:"lz"`
	Y        int    `json:"y"`
	Count    int    `json:"count"`
	Material string `json:"material"`
	Flags    uint8  `json:"flags"`
}

// handleChunk дамп чанка; ?format=line отдаёт строку K протокола
func (rs *RestServer) handleChunk(c *gin.Context) {
	cc, ok := chunkParam(c)
	if !ok {
		return
	}
	d, err := rs.srv.World().Dump(c.Request.Context(), cc)
	if err != nil {
		rs.internalError(c, err)
		return
	}

	if c.Query("format") == "line" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", protocol.Encode(protocol.Dump{ChunkDump: d}))
		return
	}
	runs := make([]runJSON, len(d.Runs))
	for i, r := range d.Runs {
		runs[i] = runJSON{
			LX: r.LX, LZ: r.LZ, Y: r.Y, Count: r.Count,
			Material: r.Block.Material().String(), Flags: uint8(r.Block.Flags()),
		}
	}
	c.JSON(http.StatusOK, gin.H{"p": cc.P, "q": cc.Q, "seq": d.Seq, "runs": runs})
}

type editJSON struct {
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Z        int       `json:"z"`
	Material string    `json:"block"`
	Flags    uint8     `json:"flags"`
	Seq      uint64    `json:"seq,omitempty"`
	Author   uint64    `json:"author"`
	Time     time.Time `json:"time,omitempty"`
}

func toEditJSON(e world.Edit) editJSON {
	return editJSON{
		X: e.Pos.X, Y: e.Pos.Y, Z: e.Pos.Z,
		Material: e.Block.Material().String(), Flags: uint8(e.Block.Flags()),
		Seq: e.Seq, Author: e.Author, Time: e.Time,
	}
}

// handleChunkHistory журнал правок чанка
func (rs *RestServer) handleChunkHistory(c *gin.Context) {
	cc, ok := chunkParam(c)
	if !ok {
		return
	}
	edits, err := rs.srv.World().History(c.Request.Context(), cc)
	if err != nil {
		rs.internalError(c, err)
		return
	}
	out := make([]editJSON, len(edits))
	for i, e := range edits {
		out[i] = toEditJSON(e)
	}
	c.JSON(http.StatusOK, gin.H{"p": cc.P, "q": cc.Q, "edits": out})
}

func (rs *RestServer) handleBlock(c *gin.Context) {
	var v vec.Vec3
	var ok bool
	if v.X, ok = intParam(c, "x"); !ok {
		return
	}
	if v.Y, ok = intParam(c, "y"); !ok {
		return
	}
	if v.Z, ok = intParam(c, "z"); !ok {
		return
	}

	b, err := rs.srv.World().BlockAt(c.Request.Context(), v)
	if err != nil {
		rs.internalError(c, err)
		return
	}
	props, _ := block.Get(b.Material())
	c.JSON(http.StatusOK, gin.H{
		"x": v.X, "y": v.Y, "z": v.Z,
		"material":    uint8(b.Material()),
		"name":        props.Name,
		"flags":       uint8(b.Flags()),
		"opaque":      b.IsOpaque(),
		"transparent": b.IsTransparent(),
		"plant":       props.Plant,
		"light":       props.Light,
		"p":           v.Chunk().P,
		"q":           v.Chunk().Q,
	})
}

// handleStats возвращает статистику сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	w := rs.srv.World()
	c.JSON(http.StatusOK, gin.H{
		"process": rs.metrics.Snapshot(),
		"world": gin.H{
			"last_seq":        w.LastSeq(),
			"resident_chunks": w.Arena().Len(),
			"dirty_chunks":    len(w.Arena().Dirty()),
			"generations":     w.Generations(),
		},
		"players": len(rs.srv.Players()),
	})
}

func (rs *RestServer) handlePlayers(c *gin.Context) {
	c.JSON(http.StatusOK, rs.srv.Players())
}

// handleAdminEdits применяет пакет правок от имени системы (автор 0)
func (rs *RestServer) handleAdminEdits(c *gin.Context) {
	var req []editJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса: " + err.Error()})
		return
	}
	if len(req) == 0 || len(req) > MaxAdminEdits {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Пакет должен содержать от 1 до " + strconv.Itoa(MaxAdminEdits) + " правок"})
		return
	}

	edits := make([]world.Edit, len(req))
	for i, e := range req {
		m, ok := block.ParseMaterial(e.Material)
		if !ok {
			c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неизвестный материал " + strconv.Quote(e.Material)})
			return
		}
		edits[i] = world.Edit{Pos: vec.Vec3{X: e.X, Y: e.Y, Z: e.Z}, Block: block.New(m, block.Flags(e.Flags))}
	}

	applied, err := rs.srv.SubmitEdits(c.Request.Context(), edits)
	switch {
	case errors.Is(err, world.ErrInvalidEdit):
		c.JSON(http.StatusBadRequest, GenericResponse{Message: err.Error()})
		return
	case errors.Is(err, world.ErrPersistence):
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: err.Error()})
		return
	case err != nil:
		rs.internalError(c, err)
		return
	}

	out := make([]editJSON, len(applied))
	for i, e := range applied {
		out[i] = toEditJSON(e)
	}
	v, _ := c.Get(claimsKey)
	if claims, ok := v.(*auth.Claims); ok {
		rs.logger.Info("Администратор %s применил %d правок", claims.Subject, len(applied))
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Правки применены", Data: out})
}

func (rs *RestServer) handleListWebhooks(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: rs.webhooks.List()})
}

func (rs *RestServer) handleCreateWebhook(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	var w OutboundWebhook
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса: " + err.Error()})
		return
	}
	created := rs.webhooks.Add(w)
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Webhook создан", Data: created})
}

func (rs *RestServer) handleDeleteWebhook(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный ID webhook'а"})
		return
	}
	if !rs.webhooks.Delete(id) {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Webhook не найден"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Webhook удалён"})
}

func (rs *RestServer) requireWebhooks(c *gin.Context) bool {
	if rs.webhooks == nil {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Webhook'и не настроены"})
		return false
	}
	return true
}

func (rs *RestServer) internalError(c *gin.Context, err error) {
	rs.logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Внутренняя ошибка сервера"})
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Параметр " + name + " должен быть целым числом"})
		return 0, false
	}
	return v, true
}

func chunkParam(c *gin.Context) (vec.ChunkCoord, bool) {
	p, ok := intParam(c, "p")
	if !ok {
		return vec.ChunkCoord{}, false
	}
	q, ok := intParam(c, "q")
	if !ok {
		return vec.ChunkCoord{}, false
	}
	return vec.ChunkCoord{P: p, Q: q}, true
}
