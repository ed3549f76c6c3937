package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserDisabled = errors.New("user disabled")
)

// Servicio que consulta al microservicio externo de autenticación.
// Los tokens válidos se recuerdan durante cacheTTL y las validaciones
// simultáneas del mismo token comparten una sola petición.
type AuthService struct {
	authURL  string
	client   *http.Client
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedUser
	group singleflight.Group
}

type cachedUser struct {
	user      AuthUser
	expiresAt time.Time
}

type AuthUser struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Login       string   `json:"login"`
	Enabled     bool     `json:"enabled"`
}

func NewAuthService(authURL string, timeout, cacheTTL time.Duration) *AuthService {
	return &AuthService{
		authURL:  strings.TrimRight(authURL, "/"),
		client:   &http.Client{Timeout: timeout},
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedUser),
	}
}

// ValidateToken resuelve el usuario dueño del token. Solo los resultados
// positivos quedan en caché.
func (a *AuthService) ValidateToken(ctx context.Context, token string) (*AuthUser, error) {
	if u, ok := a.cached(token); ok {
		return u, nil
	}

	v, err, _ := a.group.Do(token, func() (any, error) {
		// Compartida entre todos los que esperan; el timeout del cliente la acota.
		user, err := a.fetchUser(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		if a.cacheTTL > 0 {
			a.mu.Lock()
			a.evictExpiredLocked()
			a.cache[token] = cachedUser{user: *user, expiresAt: a.now().Add(a.cacheTTL)}
			a.mu.Unlock()
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	u := *v.(*AuthUser)
	return &u, nil
}

func (a *AuthService) cached(token string) (*AuthUser, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cache[token]
	if !ok || !a.now().Before(c.expiresAt) {
		return nil, false
	}
	u := c.user
	return &u, true
}

func (a *AuthService) evictExpiredLocked() {
	now := a.now()
	for k, c := range a.cache {
		if !now.Before(c.expiresAt) {
			delete(a.cache, k)
		}
	}
}

// Consulta /users/current del microservicio de auth.
func (a *AuthService) fetchUser(ctx context.Context, token string) (*AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.authURL+"/users/current", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var user AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	return &user, nil
}
