package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pushgate-labs/pushgate/internal/config"
	"github.com/pushgate-labs/pushgate/internal/gateway"
	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/service"
	"github.com/pushgate-labs/pushgate/internal/storage"
)

// Server wires HTTP handlers.
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	deviceSvc  *service.DeviceService
	prefSvc    *service.PreferenceService
	notifSvc   *service.NotificationService
	inboxSvc   *service.InboxService
	reportSvc  *service.ReportService
	authSvc    *service.AuthService
	dispatcher *service.Dispatcher
	gateway    gateway.Client
}

// New builds a server instance.
func New(cfg *config.Config, deviceSvc *service.DeviceService, prefSvc *service.PreferenceService, notifSvc *service.NotificationService, inboxSvc *service.InboxService, reportSvc *service.ReportService, authSvc *service.AuthService, dispatcher *service.Dispatcher, gw gateway.Client) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:  cfg.HTTP.ReadTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		AppName:      "pushgate",
	})
	s := &Server{
		app:        app,
		cfg:        cfg,
		deviceSvc:  deviceSvc,
		prefSvc:    prefSvc,
		notifSvc:   notifSvc,
		inboxSvc:   inboxSvc,
		reportSvc:  reportSvc,
		authSvc:    authSvc,
		dispatcher: dispatcher,
		gateway:    gw,
	}
	s.registerRoutes()
	return s
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/ping", s.handlePingGateway)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	api := s.app.Group("/api")

	api.Post("/devices/register", s.handleDeviceRegister)
	api.Get("/devices/:id", s.handleDeviceGet)
	api.Put("/devices/:id/token", s.handleDeviceSetToken)
	api.Get("/devices/:id/topics", s.handleDeviceTopics)
	api.Post("/devices/:id/topics/defaults", s.handleSubscribeDefaults)
	api.Post("/devices/:id/topics/:topic", s.handleSubscribe)
	api.Delete("/devices/:id/topics/:topic", s.handleUnsubscribe)

	api.Post("/notifications", s.handleNotificationCreate)
	api.Get("/notifications", s.handleNotificationQuery)
	api.Get("/notifications/unread_count", s.handleUnreadCount)
	api.Post("/notifications/read_all", s.handleMarkAllRead)
	api.Post("/notifications/:id/read", s.handleMarkRead)

	api.Get("/preferences/:recipient", s.handlePreferenceGet)
	api.Put("/preferences/:recipient", s.handlePreferenceUpdate)

	api.Get("/meta/categories", s.handleCategories)
	api.Get("/meta/priorities", s.handlePriorities)

	admin := api.Group("/admin", s.requireAuth)
	admin.Get("/summary", s.handleAdminSummary)
	admin.Post("/dispatch", s.handleAdminDispatch)
	admin.Post("/broadcast", s.handleAdminBroadcast)
	admin.Post("/notifications/:id/requeue", s.handleAdminRequeue)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handlePingGateway(c *fiber.Ctx) error {
	if s.gateway == nil {
		return c.JSON(model.Success("gateway not configured", fiber.Map{"configured": false}))
	}
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()
	if err := s.gateway.Ping(ctx); err != nil {
		return s.fail(c, http.StatusBadGateway, err.Error())
	}
	return c.JSON(model.Success("gateway reachable", fiber.Map{"configured": true}))
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	token, err := s.authSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("login ok", fiber.Map{"token": token}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	token := extractBearerToken(c.Get("Authorization"))
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	return c.JSON(model.Success("ok", fiber.Map{"username": claims.Username}))
}

func (s *Server) handleDeviceRegister(c *fiber.Ctx) error {
	var req struct {
		OwnerID          string `json:"ownerId"`
		PlatformDeviceID string `json:"platformDeviceId"`
		Platform         string `json:"platform"`
		PushToken        string `json:"pushToken"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	device, err := s.deviceSvc.RegisterOrReplace(c.Context(), req.OwnerID, req.PlatformDeviceID, model.Platform(req.Platform), req.PushToken)
	if err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(model.Success("device registered", device))
}

func (s *Server) handleDeviceGet(c *fiber.Ctx) error {
	device, err := s.deviceSvc.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "device not found")
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("ok", device))
}

func (s *Server) handleDeviceSetToken(c *fiber.Ctx) error {
	var req struct {
		PushToken string `json:"pushToken"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	device, err := s.deviceSvc.SetPushToken(c.Context(), c.Params("id"), req.PushToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "device not found")
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("token updated", device))
}

func (s *Server) handleDeviceTopics(c *fiber.Ctx) error {
	device, err := s.deviceSvc.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "device not found")
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("ok", device.Topics))
}

func (s *Server) handleSubscribeDefaults(c *fiber.Ctx) error {
	device, err := s.deviceSvc.SubscribeToDefaults(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "device not found")
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("subscribed to defaults", device.Topics))
}

func (s *Server) handleSubscribe(c *fiber.Ctx) error {
	device, err := s.deviceSvc.Subscribe(c.Context(), c.Params("id"), decodePathSegment(c.Params("topic")))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "device not found")
		}
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(model.Success("subscribed", device.Topics))
}

func (s *Server) handleUnsubscribe(c *fiber.Ctx) error {
	device, err := s.deviceSvc.Unsubscribe(c.Context(), c.Params("id"), decodePathSegment(c.Params("topic")))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "device not found")
		}
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(model.Success("unsubscribed", device.Topics))
}

type notificationRequest struct {
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Data            map[string]any `json:"data"`
	Topic           string         `json:"topic"`
	Tokens          []string       `json:"tokens"`
	Recipient       string         `json:"recipient"`
	Category        string         `json:"category"`
	Priority        string         `json:"priority"`
	Silent          bool           `json:"silent"`
	Sound           string         `json:"sound"`
	Badge           *int           `json:"badge"`
	ImageURL        string         `json:"imageUrl"`
	Actions         []model.Action `json:"actions"`
	ActionURL       string         `json:"actionUrl"`
	TTLSeconds      int            `json:"ttlSeconds"`
	CollapseKey     string         `json:"collapseKey"`
	ApnsOverride    map[string]any `json:"apnsOverride"`
	AndroidOverride map[string]any `json:"androidOverride"`
	ScheduledAt     *time.Time     `json:"scheduledAt"`
}

func (s *Server) handleNotificationCreate(c *fiber.Ctx) error {
	var req notificationRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	targets := 0
	if req.Topic != "" {
		targets++
	}
	if len(req.Tokens) > 0 {
		targets++
	}
	if req.Recipient != "" {
		targets++
	}
	if targets > 1 {
		return s.fail(c, http.StatusBadRequest, "topic, tokens and recipient are mutually exclusive")
	}

	b := s.notifSvc.NewNotification().
		Title(req.Title).
		Message(req.Message).
		Data(req.Data)
	switch {
	case req.Topic != "":
		b.ToTopic(req.Topic)
	case len(req.Tokens) > 0:
		b.ToTokens(req.Tokens...)
	case req.Recipient != "":
		b.ToRecipient(req.Recipient)
	}
	if req.Category != "" {
		b.Category(req.Category)
	}
	if req.Priority != "" {
		b.Priority(model.Priority(req.Priority))
	}
	if req.Silent {
		b.Silent()
	}
	if req.Sound != "" {
		b.Sound(req.Sound)
	}
	if req.Badge != nil {
		b.Badge(*req.Badge)
	}
	if req.ImageURL != "" {
		b.Image(req.ImageURL)
	}
	if len(req.Actions) > 0 {
		b.Actions(req.Actions...)
	}
	if req.ActionURL != "" {
		b.ActionURL(req.ActionURL)
	}
	if req.TTLSeconds > 0 {
		b.TTL(req.TTLSeconds)
	}
	if req.CollapseKey != "" {
		b.CollapseKey(req.CollapseKey)
	}
	if len(req.ApnsOverride) > 0 {
		b.ApnsOverride(req.ApnsOverride)
	}
	if len(req.AndroidOverride) > 0 {
		b.AndroidOverride(req.AndroidOverride)
	}
	if req.ScheduledAt != nil {
		b.ScheduleAt(*req.ScheduledAt)
	}

	notification, err := b.Save(c.Context())
	if err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			return c.Status(http.StatusUnprocessableEntity).JSON(model.Error(vErr.Error()))
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(model.Success("notification queued", notification))
}

func (s *Server) handleNotificationQuery(c *fiber.Ctx) error {
	recipient := strings.TrimSpace(c.Query("recipient"))
	if recipient == "" {
		return s.fail(c, http.StatusBadRequest, "recipient is required")
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	result, err := s.inboxSvc.QueryFor(c.Context(), recipient, page, pageSize)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("ok", result))
}

func (s *Server) handleUnreadCount(c *fiber.Ctx) error {
	recipient := strings.TrimSpace(c.Query("recipient"))
	if recipient == "" {
		return s.fail(c, http.StatusBadRequest, "recipient is required")
	}
	count, err := s.inboxSvc.UnreadCountFor(c.Context(), recipient)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("ok", fiber.Map{"unread": count}))
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	if err := s.inboxSvc.MarkRead(c.Context(), req.Recipient, c.Params("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "notification not found")
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("marked read", nil))
}

func (s *Server) handleMarkAllRead(c *fiber.Ctx) error {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	count, err := s.inboxSvc.MarkAllRead(c.Context(), req.Recipient)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("marked read", fiber.Map{"marked": count}))
}

func (s *Server) handlePreferenceGet(c *fiber.Ctx) error {
	pref, err := s.prefSvc.ForRecipient(c.Context(), decodePathSegment(c.Params("recipient")))
	if err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(model.Success("ok", pref))
}

func (s *Server) handlePreferenceUpdate(c *fiber.Ctx) error {
	var pref model.Preference
	if err := c.BodyParser(&pref); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	pref.RecipientID = decodePathSegment(c.Params("recipient"))
	updated, err := s.prefSvc.Update(c.Context(), &pref)
	if err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(model.Success("preference updated", updated))
}

func (s *Server) handleCategories(c *fiber.Ctx) error {
	return c.JSON(model.Success("ok", model.Categories()))
}

func (s *Server) handlePriorities(c *fiber.Ctx) error {
	return c.JSON(model.Success("ok", model.Priorities()))
}

func (s *Server) handleAdminSummary(c *fiber.Ctx) error {
	summary, err := s.reportSvc.Summary(c.Context())
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("ok", summary))
}

func (s *Server) handleAdminDispatch(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(s.cfg.Dispatch.BatchSize)))
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Dispatch.BatchTimeout)
	defer cancel()
	result, err := s.dispatcher.ProcessPending(ctx, limit)
	if err != nil {
		if errors.Is(err, service.ErrBatchInFlight) {
			return s.fail(c, http.StatusConflict, err.Error())
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("dispatch complete", result))
}

func (s *Server) handleAdminBroadcast(c *fiber.Ctx) error {
	var req struct {
		Tokens  []string       `json:"tokens"`
		Title   string         `json:"title"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, err.Error())
	}
	result, err := s.dispatcher.SendToMultiple(c.Context(), req.Tokens, req.Title, req.Message, req.Data)
	if err != nil {
		if errors.Is(err, gateway.ErrNotConfigured) {
			return s.fail(c, http.StatusServiceUnavailable, err.Error())
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("broadcast complete", result))
}

func (s *Server) handleAdminRequeue(c *fiber.Ctx) error {
	if err := s.notifSvc.Requeue(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.fail(c, http.StatusNotFound, "notification not found")
		}
		return s.fail(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(model.Success("requeued", nil))
}

func (s *Server) fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodePathSegment(value string) string {
	if value == "" {
		return value
	}
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
