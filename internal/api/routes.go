package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
	"github.com/kayna-aarda/AardaUnityPlugin/internal/auth"
)

const claimsKey = "claims"

// Dependencies are the services behind the development API
type Dependencies struct {
	Issuer        *auth.Issuer
	Username      string
	Password      string
	Characters    repositories.CharacterRepository
	Sessions      *SessionStore
	Conversations *ConversationHandler
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	e.JSONSerializer = SonicSerializer{}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:   "ok",
			Service:  "aarda-devserver",
			Sessions: deps.Sessions.Len(),
		})
	})

	e.POST("/token", func(c echo.Context) error {
		return issueToken(c, deps, logger)
	})

	project := e.Group("/project", requireToken(deps.Issuer, logger))
	project.GET("/characters", func(c echo.Context) error {
		return listCharacters(c, deps.Characters, logger)
	})

	// The credential arrives as the first frame, not in the handshake
	e.GET("/ws", deps.Conversations.Handle)
}

// issueToken exchanges form credentials for a bearer token
func issueToken(c echo.Context, deps Dependencies, logger *zap.Logger) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	if username == "" || password == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Username and password are required",
		})
	}

	if !equal(username, deps.Username) || !equal(password, deps.Password) {
		logger.Warn("Token request rejected", zap.String("username", username))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid username or password",
		})
	}

	token, expiresAt, err := deps.Issuer.GenerateToken(username)
	if err != nil {
		logger.Error("Failed to generate token", zap.String("username", username), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Issued API token",
		zap.String("username", username),
		zap.Time("expires_at", expiresAt))

	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

func listCharacters(c echo.Context, characters repositories.CharacterRepository, logger *zap.Logger) error {
	list, err := characters.List(c.Request().Context())
	if err != nil {
		logger.Error("Failed to list characters", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list characters",
		})
	}
	return c.JSON(http.StatusOK, list)
}

// requireToken rejects requests without a valid bearer token
func requireToken(issuer *auth.Issuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, found := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if !found || token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "Bearer token is required in Authorization header",
				})
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired token",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
