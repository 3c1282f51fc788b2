package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BearBump/CarrierGate/internal/cache"
	"github.com/pkg/errors"
)

// expirySkew: токен считаем протухшим чуть раньше, чем говорит вендор.
const expirySkew = 60 * time.Second

type Token struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// skew не больше четверти срока жизни: короткоживущий токен иначе протухал бы сразу.
func (t Token) skew() time.Duration {
	if t.IssuedAt.IsZero() {
		return expirySkew
	}
	return min(expirySkew, t.ExpiresAt.Sub(t.IssuedAt)/4)
}

func (t Token) validAt(now time.Time) bool {
	return t.AccessToken != "" && now.Add(t.skew()).Before(t.ExpiresAt)
}

// FetchFunc performs the vendor token exchange.
type FetchFunc func(ctx context.Context) (Token, error)

// TokenSource caches one bearer token per carrier key, in process and optionally in a shared cache
// so that several replicas do not hammer the vendor token endpoint.
type TokenSource struct {
	key    string
	fetch  FetchFunc
	shared cache.BytesCache
	now    func() time.Time

	mu  sync.Mutex
	tok Token
}

func NewTokenSource(key string, fetch FetchFunc, shared cache.BytesCache) *TokenSource {
	return &TokenSource{key: "oauth:" + key, fetch: fetch, shared: shared, now: time.Now}
}

// Token returns a cached token or performs the exchange. Concurrent callers share one exchange.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.tok.validAt(now) {
		return s.tok.AccessToken, nil
	}

	if s.shared != nil {
		b, ok, err := s.shared.Get(ctx, s.key)
		if err != nil {
			slog.Warn("token cache get failed", "key", s.key, "error", err.Error())
		} else if ok {
			var t Token
			if err := json.Unmarshal(b, &t); err == nil && t.validAt(now) {
				s.tok = t
				return t.AccessToken, nil
			}
		}
	}

	t, err := s.fetch(ctx)
	if err != nil {
		return "", errors.Wrap(err, "fetch token")
	}
	if t.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = now
	}
	s.tok = t

	if s.shared != nil {
		if ttl := t.ExpiresAt.Sub(now) - t.skew(); ttl > 0 {
			b, _ := json.Marshal(t)
			if err := s.shared.Set(ctx, s.key, b, ttl); err != nil {
				slog.Warn("token cache set failed", "key", s.key, "error", err.Error())
			}
		}
	}
	return t.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the vendor answered 401 or credentials changed.
func (s *TokenSource) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.tok = Token{}
	s.mu.Unlock()
	if s.shared != nil {
		if err := s.shared.Delete(ctx, s.key); err != nil {
			slog.Warn("token cache delete failed", "key", s.key, "error", err.Error())
		}
	}
}

// Response is the client-credentials grant answer. expires_in arrives as a number
// or as a string depending on the vendor.
type Response struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (r Response) Token(now time.Time) (Token, error) {
	if r.AccessToken == "" {
		return Token{}, errors.New("token response without access_token")
	}
	sec := int64(3600)
	if r.ExpiresIn != "" {
		v, err := strconv.ParseInt(string(r.ExpiresIn), 10, 64)
		if err != nil {
			return Token{}, errors.Wrapf(err, "parse expires_in %q", r.ExpiresIn)
		}
		sec = v
	}
	return Token{AccessToken: r.AccessToken, IssuedAt: now, ExpiresAt: now.Add(time.Duration(sec) * time.Second)}, nil
}
