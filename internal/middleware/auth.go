// Package middleware содержит HTTP middleware сервиса предзаказов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

type contextKey string

const actorKey contextKey = "actor"

// AuthCookieName задаёт имя cookie, которое выпускает сервис аутентификации.
const AuthCookieName = "auth_token"

// AuthMiddleware проверяет подписанный cookie участника. Cookie выпускает
// внешний сервис аутентификации, использующий тот же секрет.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(AuthCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actor, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Token возвращает подписанное значение cookie вида role:id:restaurantID.signature.
func (a *AuthMiddleware) Token(actor model.Actor) string {
	payload := string(actor.Role) + ":" + actor.ID + ":" + actor.RestaurantID
	return payload + "." + a.sign(payload)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (model.Actor, bool) {
	dot := strings.LastIndex(cookieValue, ".")
	if dot <= 0 {
		return model.Actor{}, false
	}

	payload := cookieValue[:dot]
	signature := cookieValue[dot+1:]
	if !hmac.Equal([]byte(signature), []byte(a.sign(payload))) {
		return model.Actor{}, false
	}

	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 || parts[1] == "" {
		return model.Actor{}, false
	}

	actor := model.Actor{ID: parts[1], Role: model.Role(parts[0]), RestaurantID: parts[2]}
	switch actor.Role {
	case model.RoleDiner:
		actor.RestaurantID = ""
	case model.RoleStaff:
		if actor.RestaurantID == "" {
			return model.Actor{}, false
		}
	default:
		return model.Actor{}, false
	}

	return actor, true
}

// GetActorFromContext извлекает участника из контекста запроса.
func GetActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}
