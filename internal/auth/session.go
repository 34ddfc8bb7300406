package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const SessionCookieName = "keychat_session"

var ErrNoSession = errors.New("no session")

// Session is what the cookie carries between requests. The upstream key rides
// along because every upstream call is made with the caller's own key.
type Session struct {
	UserID string
	APIKey string
}

var errSealedKey = errors.New("invalid sealed api key")

// SessionManager issues and reads HS256-signed session cookies. The API key
// claim is sealed with a key derived from the same secret, so the cookie
// payload never shows it in the clear.
type SessionManager struct {
	secret []byte
	boxKey [32]byte
	ttl    time.Duration
	secure bool
}

func NewSessionManager(secret []byte, ttl time.Duration, secure bool) *SessionManager {
	m := &SessionManager{secret: secret, ttl: ttl, secure: secure}
	kdf := hkdf.New(sha256.New, secret, nil, []byte("keychat session api key"))
	if _, err := io.ReadFull(kdf, m.boxKey[:]); err != nil {
		// hkdf only fails past 255 blocks of output
		panic(err)
	}
	return m
}

func (m *SessionManager) sealKey(apiKey string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(apiKey), &nonce, &m.boxKey)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (m *SessionManager) openKey(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return "", errSealedKey
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &m.boxKey)
	if !ok {
		return "", errSealedKey
	}
	return string(plain), nil
}

func (m *SessionManager) Issue(c *gin.Context, s Session) error {
	sealedKey, err := m.sealKey(s.APIKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": s.UserID,
		"key": sealedKey,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, signed, int(m.ttl.Seconds()), "/", "", m.secure, true)
	return nil
}

func (m *SessionManager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", m.secure, true)
}

// Read returns ErrNoSession when the cookie is absent and a parse error when
// it is present but invalid or expired.
func (m *SessionManager) Read(c *gin.Context) (*Session, error) {
	raw, err := c.Cookie(SessionCookieName)
	if err != nil || raw == "" {
		return nil, ErrNoSession
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	userID, _ := claims["sub"].(string)
	sealedKey, _ := claims["key"].(string)
	if userID == "" || sealedKey == "" {
		return nil, errors.New("incomplete session token")
	}
	apiKey, err := m.openKey(sealedKey)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: userID, APIKey: apiKey}, nil
}
