package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"mobilecontrol/models"
)

// CORSPolicy decides which browser origins may use the API.
type CORSPolicy struct {
	Enabled bool
	Origins []string
}

// Allows reports whether a request with this Origin header may proceed.
// Requests without an Origin (curl, SDKs) are always allowed.
func (p CORSPolicy) Allows(origin string) bool {
	if !p.Enabled || origin == "" {
		return true
	}
	for _, o := range p.Origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// CheckOrigin adapts the policy to websocket.Upgrader.
func (p CORSPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allows(r.Header.Get("Origin"))
}

func CORSMiddleware(policy CORSPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if !policy.Allows(origin) {
			log.WithField("origin", origin).Warn("Rejected cross-origin request")
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorWithMessage("Forbidden", "Origin "+origin+" is not allowed"))
			return
		}

		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// TokenVerifier checks bearer tokens against the configured secret, which
// may be plain text or a bcrypt hash.
type TokenVerifier struct {
	secret []byte
	hashed bool
}

func NewTokenVerifier(token string) *TokenVerifier {
	token = strings.TrimSpace(token)
	return &TokenVerifier{secret: []byte(token), hashed: IsBcryptHash(token)}
}

// IsBcryptHash reports whether s looks like a bcrypt hash.
func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (v *TokenVerifier) Verify(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || len(v.secret) == 0 {
		return false
	}
	if v.hashed {
		return bcrypt.CompareHashAndPassword(v.secret, []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare(v.secret, []byte(token)) == 1
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorWithMessage("Unauthorized", "Authentication required"))
}

var publicPaths = map[string]bool{
	"/health":     true,
	"/api/health": true,
}

// AuthMiddleware requires a valid bearer token on every non-public route.
// A nil verifier disables authentication.
func AuthMiddleware(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil || publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !v.Verify(bearerToken(c.Request)) {
			log.WithField("path", c.Request.URL.Path).Debug("Rejected unauthenticated request")
			unauthorized(c)
			return
		}
		c.Next()
	}
}

// WebSocketAuth verifies the handshake token from ?token= or the
// Authorization header before the connection is upgraded.
func WebSocketAuth(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		token := c.Query("token")
		if token == "" {
			token = bearerToken(c.Request)
		}
		if !v.Verify(token) {
			log.WithField("remote", c.ClientIP()).Warn("Rejected WebSocket handshake")
			unauthorized(c)
			return
		}
		c.Next()
	}
}
