package handler

import (
	"errors"
	"net/http"

	"dungeon-server/internal/middleware"
	"dungeon-server/internal/models"
	"dungeon-server/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// DungeonHandler обрабатывает HTTP запросы пайплайна подземелья.
type DungeonHandler struct {
	service                   service.DungeonService
	logger                    *zap.Logger
	validate                  *validator.Validate
	interServiceTokenVerifier *middleware.InterServiceVerifier
}

// NewDungeonHandler создает DungeonHandler.
// Пустой interServiceSecret отключает проверку межсервисного токена.
func NewDungeonHandler(s service.DungeonService, logger *zap.Logger, interServiceSecret string) (*DungeonHandler, error) {
	h := &DungeonHandler{
		service:  s,
		logger:   logger.Named("DungeonHandler"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if interServiceSecret != "" {
		verifier, err := middleware.NewInterServiceVerifier(interServiceSecret, logger)
		if err != nil {
			return nil, err
		}
		h.interServiceTokenVerifier = verifier
	}
	return h, nil
}

// RegisterRoutes регистрирует маршруты сервиса.
func (h *DungeonHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var mws []echo.MiddlewareFunc
	if h.interServiceTokenVerifier != nil {
		mws = append(mws, middleware.InterServiceAuthMiddleware(h.interServiceTokenVerifier, h.logger))
	} else {
		h.logger.Warn("Inter-service secret is not configured, /dungeon routes are not protected")
	}

	dungeonGroup := e.Group("/dungeon", mws...)
	{
		dungeonGroup.POST("/entrance", h.entrance)
		dungeonGroup.POST("/balance", h.balance)
		dungeonGroup.POST("/clear", h.clear)
		dungeonGroup.POST("/next", h.next)
		dungeonGroup.POST("/event/select", h.selectEvent)
		dungeonGroup.GET("/current", h.current)
		dungeonGroup.GET("/event", h.eventByFloor)
	}
}

// --- Вспомогательные функции --- //

func handleServiceError(c echo.Context, err error) error {
	var statusCode int
	var apiErr APIError

	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidMap):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrNoActiveRun), errors.Is(err, models.ErrNoEventAtRoom):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: "Resource not found"}
	case errors.Is(err, models.ErrStoreConflict):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: "Another operation on this run is in progress"}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Internal server error"}
	}
	return c.JSON(statusCode, apiErr)
}

// isExpected - ошибки, которые не нужно логировать как сбой.
func isExpected(err error) bool {
	return errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrInvalidMap) ||
		errors.Is(err, models.ErrNoActiveRun) ||
		errors.Is(err, models.ErrNoEventAtRoom) ||
		errors.Is(err, models.ErrNotFound)
}

// bindAndValidate читает тело запроса и проверяет его теги validate.
// Ошибка - готовый *echo.HTTPError с кодом 400.
func (h *DungeonHandler) bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Validation failed: "+err.Error())
	}
	return nil
}

// --- Обработчики HTTP --- //

func (h *DungeonHandler) entrance(c echo.Context) error {
	var req EntranceRequestDTO
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.service.Entrance(c.Request().Context(), service.EntranceRequest{
		RawMap:      req.RawMap,
		HeroineData: req.HeroineData,
		UsedEvents:  req.UsedEvents,
	})
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error entering dungeon", zap.Ints("players", req.RawMap.PlayerIDs), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

func (h *DungeonHandler) balance(c echo.Context) error {
	var req BalanceRequestDTO
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.service.Balance(c.Request().Context(), service.BalanceRequest{
		FirstPlayerID: *req.FirstPlayerID,
		PlayerData:    req.PlayerDataList,
		MonsterDB:     req.MonsterDB,
		RawMap:        req.RawMap,
		HeroineData:   req.HeroineData,
		UsedEvents:    req.UsedEvents,
	})
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error balancing dungeon", zap.Int("firstPlayerID", *req.FirstPlayerID), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *DungeonHandler) next(c echo.Context) error {
	var req NextRequestDTO
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.service.Next(c.Request().Context(), service.NextRequest{
		FirstPlayerID: *req.FirstPlayerID,
		PlayerData:    req.PlayerDataList,
		RawMap:        req.RawMap,
		HeroineData:   req.HeroineData,
		UsedEvents:    req.UsedEvents,
	})
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error generating next floor", zap.Int("firstPlayerID", *req.FirstPlayerID), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *DungeonHandler) clear(c echo.Context) error {
	var req ClearRequestDTO
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.service.Clear(c.Request().Context(), req.PlayerIDs)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error clearing floor", zap.Ints("players", req.PlayerIDs), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, ClearResponseDTO{
		DungeonID:     res.DungeonID,
		FloorFinished: res.FloorFinished,
		PlayerIDs:     res.PlayerIDs,
	})
}

func (h *DungeonHandler) selectEvent(c echo.Context) error {
	var req SelectEventRequestDTO
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.service.SelectEvent(c.Request().Context(), service.SelectEventRequest{
		FirstPlayerID:     *req.FirstPlayerID,
		SelectingPlayerID: *req.SelectingPlayerID,
		RoomID:            *req.RoomID,
		Choice:            req.Choice,
	})
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error selecting event choice", zap.Int("roomID", *req.RoomID), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *DungeonHandler) current(c echo.Context) error {
	var playerID, heroineID int
	if err := echo.QueryParamsBinder(c).
		MustInt("player_id", &playerID).
		MustInt("heroine_id", &heroineID).
		BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid query: " + err.Error()})
	}

	row, err := h.service.Current(c.Request().Context(), playerID, heroineID)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error getting current dungeon", zap.Int("playerID", playerID), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toDungeonRowDTO(row))
}

func (h *DungeonHandler) eventByFloor(c echo.Context) error {
	var playerID, floor int
	if err := echo.QueryParamsBinder(c).
		MustInt("player_id", &playerID).
		MustInt("floor", &floor).
		BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid query: " + err.Error()})
	}

	events, err := h.service.EventByFloor(c.Request().Context(), playerID, floor)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("Error getting floor events", zap.Int("playerID", playerID), zap.Int("floor", floor), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *DungeonHandler) health(c echo.Context) error {
	if err := h.service.Health(c.Request().Context()); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
