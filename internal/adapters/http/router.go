package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/dkeye/tripsync/internal/adapters/signal"
	"github.com/dkeye/tripsync/internal/app/orch"
	"github.com/dkeye/tripsync/internal/auth"
	"github.com/dkeye/tripsync/internal/config"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const sessionUserKey = "uid"

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

// AuthMiddleware resolves the caller's verified user id from a token, or from
// the cookie session a previous verified request left behind. With required
// set, unverified callers are rejected.
func AuthMiddleware(v *auth.Verifier, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if token := bearerToken(c); token != "" {
			uid, err := v.Verify(token)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("token rejected")
				c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			session.Set(sessionUserKey, string(uid))
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
			c.Set(signal.VerifiedUserKey, string(uid))
			c.Next()
			return
		}
		if uid, ok := session.Get(sessionUserKey).(string); ok && uid != "" {
			c.Set(signal.VerifiedUserKey, uid)
			c.Next()
			return
		}
		if required {
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		c.Next()
	}
}

type healthResponse struct {
	Status string `json:"status"`
	core.BrokerStats
}

func healthHandler(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, healthResponse{Status: "ok", BrokerStats: o.Stats()})
	}
}

func iceServers(cfg config.ICEConfig) []webrtc.ICEServer {
	if len(cfg.URLs) == 0 {
		return []webrtc.ICEServer{}
	}
	s := webrtc.ICEServer{URLs: cfg.URLs}
	if cfg.Username != "" {
		s.Username = cfg.Username
		s.Credential = cfg.Credential
		s.CredentialType = webrtc.ICECredentialTypePassword
	}
	return []webrtc.ICEServer{s}
}

// SetupRouter wires the HTTP surface. ctx bounds every websocket connection.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, v *auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("TripSyncSessions", store))

	r.GET("/health", healthHandler(o))

	api := r.Group("/api")
	ice := iceServers(cfg.ICE)
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"iceServers": ice})
	})

	ctrl := signal.NewSignalWSController(o, signal.OptionsFromConfig(cfg))
	api.GET("/ws/signal", AuthMiddleware(v, cfg.Auth.Required), func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", c.GetString(signal.VerifiedUserKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("auth_required", cfg.Auth.Required).Int("ice_servers", len(ice)).Msg("router setup")
	return r
}
