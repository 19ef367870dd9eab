package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/socialsapp/socials-service/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("The email or password is incorrect.")
	ErrEmailTaken         = errors.New("The email address is already in use by another account.")
	ErrWeakPassword       = errors.New("Password should be at least 6 characters.")
	ErrBadEmail           = errors.New("The email address is badly formatted.")
	ErrUnknownEmail       = errors.New("There is no user record corresponding to this email.")
	ErrSessionRevoked     = errors.New("session has been signed out")
)

// State is the current signed-in identity, nil meaning no session.
type State struct {
	UserID string
	Email  string
}

// Listener receives every session change. It is fired once at registration
// with the current state, even when that state is "no session".
type Listener func(s *State)

// Provider issues and observes user sessions. Accounts live in postgres,
// session tokens are HS256 JWTs, and sign-out revokes the token id in redis
// until its natural expiry.
type Provider struct {
	db     *gorm.DB
	rdb    *redis.Client
	secret []byte
	ttl    time.Duration
	log    *zap.SugaredLogger

	mu        sync.Mutex
	current   *State
	listeners map[int]Listener
	nextID    int
}

func NewProvider(db *gorm.DB, rdb *redis.Client, secret string, ttl time.Duration, logger *zap.SugaredLogger) *Provider {
	return &Provider{
		db:        db,
		rdb:       rdb,
		secret:    []byte(secret),
		ttl:       ttl,
		log:       logger,
		listeners: make(map[int]Listener),
	}
}

// OnSessionChange registers a listener and fires it immediately with the
// current state. The returned func unsubscribes.
func (p *Provider) OnSessionChange(l Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	current := p.current
	p.mu.Unlock()
	l(current)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) setCurrent(s *State) {
	p.mu.Lock()
	p.current = s
	ls := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.Unlock()
	for _, l := range ls {
		l(s)
	}
}

// Current returns the active session state, nil when signed out.
func (p *Provider) Current() *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SignUp creates an account and starts a session for it.
func (p *Provider) SignUp(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !strings.Contains(email, "@") {
		return "", ErrBadEmail
	}
	if len(password) < 6 {
		return "", ErrWeakPassword
	}
	var existing model.User
	err := p.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return "", ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	user := &model.User{ID: uuid.NewString(), Email: email, PasswordHash: string(hash)}
	if err := p.db.WithContext(ctx).Create(user).Error; err != nil {
		return "", err
	}
	return p.startSession(user)
}

// SignIn verifies credentials and starts a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	var user model.User
	if err := p.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return p.startSession(&user)
}

func (p *Provider) startSession(user *model.User) (string, error) {
	token, err := p.mintToken(user.ID, user.Email, p.ttl)
	if err != nil {
		return "", err
	}
	p.setCurrent(&State{UserID: user.ID, Email: user.Email})
	return token, nil
}

// SendPasswordReset mints a short-lived reset token for the account. Mail
// dispatch is out of scope; the caller delivers the token.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	var user model.User
	if err := p.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUnknownEmail
		}
		return "", err
	}
	return p.mintToken(user.ID, user.Email, time.Hour)
}

// SignOut revokes the token and clears the current session. The revocation
// entry outlives any token minted with the provider TTL.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.parseToken(token)
	if err != nil {
		return err
	}
	jti, _ := claims["jti"].(string)
	if p.rdb != nil && jti != "" {
		if err := p.rdb.Set(ctx, revokedKey(jti), "1", p.ttl).Err(); err != nil {
			return err
		}
	}
	p.setCurrent(nil)
	return nil
}

// Verify parses a session token and returns its identity, rejecting revoked
// tokens.
func (p *Provider) Verify(ctx context.Context, token string) (*State, error) {
	claims, err := p.parseToken(token)
	if err != nil {
		return nil, err
	}
	jti, _ := claims["jti"].(string)
	if p.rdb != nil && jti != "" {
		if err := p.rdb.Get(ctx, revokedKey(jti)).Err(); err == nil {
			return nil, ErrSessionRevoked
		} else if err != redis.Nil {
			p.log.Warnf("revocation check: %v", err)
		}
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" {
		return nil, errors.New("token missing subject")
	}
	return &State{UserID: sub, Email: email}, nil
}

func (p *Provider) mintToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   "socials",
		"sub":   userID,
		"email": email,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

func (p *Provider) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

func revokedKey(jti string) string { return "revoked:" + jti }
