package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/app/orch"
	"github.com/dkeye/tripsync/internal/config"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// VerifiedUserKey is the gin context key holding the user id proven by the
// connection's credential, if any.
const VerifiedUserKey = "verified_user"

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	IdleTimeout  time.Duration
	SendBuffer   int
	EventsPerSec float64
	Burst        int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		IdleTimeout:  cfg.IdleTimeout,
		SendBuffer:   cfg.SendBuffer,
		EventsPerSec: cfg.Rate.EventsPerSec,
		Burst:        cfg.Rate.Burst,
	}
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	Opts Options

	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		Opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn is the websocket side of core.SignalConnection.
type WsSignalConn struct {
	conn    *websocket.Conn
	send    chan core.Frame
	limiter *rate.Limiter

	// boundUser is the credential's user id; identify and join may not claim another.
	boundUser domain.UserID

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// HandleSignal upgrades the request and runs the connection until the
// transport fails or ctx is done. ctx must outlive the HTTP handler.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Opts.ReadLimit)

	conn := &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, ctl.Opts.SendBuffer),
		boundUser: domain.UserID(c.GetString(VerifiedUserKey)),
	}
	if ctl.Opts.EventsPerSec > 0 {
		conn.limiter = rate.NewLimiter(rate.Limit(ctl.Opts.EventsPerSec), max(ctl.Opts.Burst, 1))
	}

	ctx, cancel := context.WithCancel(ctx)
	sid := ctl.Orch.Connect(conn, cancel)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("remote", c.ClientIP()).Msg("new WS connection")

	if conn.boundUser != "" {
		if err := ctl.Orch.Identify(sid, conn.boundUser); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("credential user rejected")
		} else {
			ctl.sendIdentified(sid, conn)
		}
	}

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, sid, conn, cancel)
	if ctl.Opts.IdleTimeout > 0 {
		go ctl.idleWatch(ctx, sid)
	}
}

// idleWatch disconnects a connection that never identified.
func (ctl *SignalWSController) idleWatch(ctx context.Context, sid core.SessionID) {
	t := time.NewTimer(ctl.Opts.IdleTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		if ctl.Orch.Registry.State(sid) == app.Anonymous {
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("idle anonymous connection, closing")
			ctl.Orch.KickBySID(sid)
		}
	}
}
