package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/pkg/jwt"
)

// Identity an authenticated chat user
type Identity struct {
	UserID   string
	Nickname string
}

// Authenticator turns a bearer credential into an Identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// JWTAuthenticator verifies access tokens issued by jwt.Manager
type JWTAuthenticator struct {
	manager *jwt.Manager
}

// NewJWTAuthenticator creates a JWTAuthenticator
func NewJWTAuthenticator(manager *jwt.Manager) *JWTAuthenticator {
	return &JWTAuthenticator{manager: manager}
}

// Authenticate returns ErrUnauthorized for missing, invalid or expired tokens
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", common.ErrUnauthorized)
	}
	claims, err := a.manager.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no user", common.ErrUnauthorized)
	}
	if !domain.ValidUserID(claims.UserID) {
		return nil, fmt.Errorf("%w: malformed user id", common.ErrUnauthorized)
	}
	return &Identity{UserID: claims.UserID, Nickname: claims.Nickname}, nil
}

// ExtractToken reads the handshake credential: Authorization header first,
// then the token query parameter (browsers cannot set upgrade headers).
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
