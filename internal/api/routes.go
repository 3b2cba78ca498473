package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain/entities"
)

const stateTimeout = 2 * time.Second

// SessionReader exposes the session to the debug endpoints
type SessionReader interface {
	ID() string
	State(ctx context.Context) (entities.SessionState, error)
}

// ChatReader exposes the running transcript
type ChatReader interface {
	Entries() []entities.ChatEntry
}

// InitRoutes initializes the debug routes
func InitRoutes(e *echo.Echo, session SessionReader, chat ChatReader, gatherer prometheus.Gatherer, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Service:   "voicelink",
			SessionID: session.ID(),
		})
	})

	e.GET("/state", func(c echo.Context) error {
		return getState(c, session, logger)
	})

	e.GET("/chat", func(c echo.Context) error {
		entries := chat.Entries()
		return c.JSON(http.StatusOK, ChatResponse{
			Entries: entries,
			Count:   len(entries),
			AsOf:    time.Now().UTC(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func getState(c echo.Context, session SessionReader, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), stateTimeout)
	defer cancel()

	state, err := session.State(ctx)
	if err != nil {
		logger.Warn("Failed to read session state", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "state_unavailable",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, StateResponse{
		SessionState: state,
		Phase:        state.Phase(),
	})
}
