package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// InterServiceTokenHeader - заголовок с межсервисным токеном.
const InterServiceTokenHeader = "X-Internal-Service-Token"

// SourceServiceContextKey - ключ echo.Context с именем вызывающего сервиса.
const SourceServiceContextKey = "source_service"

var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
)

// InterServiceVerifier проверяет HMAC-подписанные межсервисные JWT.
type InterServiceVerifier struct {
	secret []byte
	logger *zap.Logger
}

// NewInterServiceVerifier создает верификатор. Секрет не может быть пустым.
func NewInterServiceVerifier(secret string, logger *zap.Logger) (*InterServiceVerifier, error) {
	if secret == "" {
		return nil, errors.New("inter-service JWT secret cannot be empty")
	}
	return &InterServiceVerifier{secret: []byte(secret), logger: logger.Named("InterServiceVerifier")}, nil
}

// VerifyInterServiceToken проверяет подпись и срок действия токена и возвращает его claims.
func (v *InterServiceVerifier) VerifyInterServiceToken(ctx context.Context, tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// GenerateInterServiceToken подписывает токен сервиса subject со сроком жизни ttl.
func GenerateInterServiceToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign inter-service token: %w", err)
	}
	return signed, nil
}

// InterServiceAuthMiddleware создает Echo middleware для проверки межсервисного JWT.
func InterServiceAuthMiddleware(verifier *InterServiceVerifier, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.With(zap.String("path", c.Request().URL.Path))

			tokenString := c.Request().Header.Get(InterServiceTokenHeader)
			if tokenString == "" {
				log.Warn("X-Internal-Service-Token header missing")
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized: Missing inter-service token")
			}

			claims, err := verifier.VerifyInterServiceToken(c.Request().Context(), tokenString)
			if err != nil {
				msg := "Unauthorized: Invalid inter-service token"
				if errors.Is(err, ErrTokenExpired) {
					msg = "Unauthorized: Inter-service token expired"
				}
				log.Warn("Inter-service token verification failed", zap.Error(err), zap.String("tokenSnippet", tokenSnippet(tokenString)))
				return echo.NewHTTPError(http.StatusUnauthorized, msg)
			}

			if claims.Subject != "" {
				c.Set(SourceServiceContextKey, claims.Subject)
				log.Debug("Inter-service request authorized", zap.String("sourceService", claims.Subject))
			} else {
				log.Warn("Inter-service token authorized but Subject (source service) is missing")
			}
			return next(c)
		}
	}
}

// tokenSnippet возвращает безопасную для логгирования часть токена.
func tokenSnippet(tokenString string) string {
	const limit = 15
	if len(tokenString) > limit {
		return tokenString[:limit] + "..."
	}
	return tokenString
}
