// Package ws serves the trade command surface over websockets.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/trade"
)

var log = logrus.WithField("component", "ws")

const outQueue = 32

type Server struct {
	svc *trade.Service
	hub *Hub

	upgrader websocket.Upgrader

	// mu orders handler registration against Shutdown.
	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup
}

type Options struct {
	// AllowedOrigins lists browser origins that may connect; "*" allows any.
	// Empty keeps the same-origin check, which also admits clients that send
	// no Origin header.
	AllowedOrigins []string
}

func NewServer(svc *trade.Service, hub *Hub, opts Options) *Server {
	s := &Server{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
	if len(opts.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = originChecker(opts.AllowedOrigins)
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.ToLower(origin)]
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.enter() {
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.handlers.Done()

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c, name := s.handshake(conn)
		if c == nil {
			return
		}
		if old := s.hub.attach(c, name); old != nil {
			old.kick("replaced by a newer connection")
		}
		defer s.hub.detach(c)
		if s.isClosing() {
			closeWith(conn, "server shutting down")
			return
		}
		// Attach first so notices raised right after WELCOME are queued.
		welcome := protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, ActorID: c.actor}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		entry := log.WithField("actor", c.actor)
		entry.Info("actor connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.dispatch(ctx, c.actor, msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case c.out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		entry.Info("actor disconnected")
	}
}

func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown refuses new connections, disconnects every actor and waits for
// their handlers to return, so no command runs after it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.hub.CloseAll("server shutting down")

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*client, string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil, ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil, ""
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil, ""
	}
	actor := strings.TrimSpace(hello.ActorID)
	if actor == "" {
		closeWith(conn, "missing actor_id")
		return nil, ""
	}

	return &client{actor: actor, conn: conn, out: make(chan []byte, outQueue)}, strings.TrimSpace(hello.DisplayName)
}

func (s *Server) dispatch(ctx context.Context, actor string, msg []byte) protocol.ResultMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCmd {
		return failure("", protocol.ErrProtoBadRequest, "expected CMD")
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return failure("", protocol.ErrProtoBadRequest, "bad CMD")
	}
	if cmd.ProtocolVersion != protocol.Version {
		return failure(cmd.ID, protocol.ErrProtoVersion, "unsupported protocol_version")
	}

	var text string
	switch cmd.Op {
	case protocol.OpOpen:
		if cmd.Target == "" {
			return failure(cmd.ID, protocol.ErrBadRequest, "open needs a target")
		}
		text, err = s.svc.Open(ctx, actor, cmd.Target)
	case protocol.OpOffer, protocol.OpUnoffer:
		if cmd.AssetID == "" {
			return failure(cmd.ID, protocol.ErrBadRequest, cmd.Op+" needs an asset_id")
		}
		if cmd.Op == protocol.OpOffer {
			text, err = s.svc.Offer(ctx, actor, cmd.AssetID)
		} else {
			text, err = s.svc.Unoffer(ctx, actor, cmd.AssetID)
		}
	case protocol.OpReady:
		ready := cmd.Ready == nil || *cmd.Ready
		text, err = s.svc.SetReady(ctx, actor, ready)
	case protocol.OpAccept:
		text, err = s.svc.Accept(ctx, actor)
	case protocol.OpCancel:
		text, err = s.svc.Cancel(ctx, actor)
	case protocol.OpShow:
		text, err = s.svc.Show(ctx, actor)
	default:
		return failure(cmd.ID, protocol.ErrBadRequest, "unknown op "+cmd.Op)
	}
	if err != nil {
		code := trade.Code(err)
		if code == protocol.ErrInternal || code == protocol.ErrGatewayFailure {
			log.WithFields(logrus.Fields{"actor": actor, "op": cmd.Op}).WithError(err).Warn("command failed")
		}
		return failure(cmd.ID, code, err.Error())
	}

	res := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Ref:             cmd.ID,
		OK:              true,
		Message:         text,
	}
	if rec, err := s.svc.View(actor); err == nil {
		res.Session = SessionView(rec)
	}
	return res
}

// SessionView converts a session record to its wire form.
func SessionView(rec trade.Record) *protocol.SessionView {
	v := &protocol.SessionView{
		ID:        rec.ID,
		Status:    string(rec.Status),
		ExpiresAt: rec.ExpiresAt.UTC(),
	}
	for _, p := range []trade.PartyRecord{rec.A, rec.B} {
		v.Parties = append(v.Parties, protocol.PartyView{
			ActorID:  p.Actor,
			Label:    p.Label,
			Offers:   p.Offers,
			Ready:    p.Ready,
			Accepted: p.Accepted,
		})
	}
	return v
}

func failure(ref, code, msg string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		OK:              false,
		Code:            code,
		Message:         msg,
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
