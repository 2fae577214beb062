package websocket

import (
	"context"
	"net/http"
	"sync"

	"devsync-server/config"
	"devsync-server/core"
	"devsync-server/hub"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Server maps socket.io events onto the hub and implements hub.Broadcaster
// on top of socket.io rooms.
type Server struct {
	srv *socketio.Server
	hub *hub.Hub

	mu      sync.RWMutex
	sockets map[string]*socketio.Socket
}

func NewServer(cfg *config.Config) *Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(cfg.MaxHTTPBufferSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(corsFor(cfg.AllowedOrigins))

	return &Server{
		srv:     socketio.NewServer(nil, opts),
		sockets: make(map[string]*socketio.Socket),
	}
}

func corsFor(allowed []string) *types.Cors {
	for _, origin := range allowed {
		if origin == "*" {
			return &types.Cors{Origin: "*", Credentials: true}
		}
	}
	origins := make([]any, 0, len(allowed))
	for _, origin := range allowed {
		origins = append(origins, origin)
	}
	return &types.Cors{Origin: origins, Credentials: true}
}

// Handler serves the socket.io endpoint.
func (s *Server) Handler() http.Handler {
	return s.srv.ServeHandler(nil)
}

func (s *Server) Close() {
	s.srv.Close(nil)
}

func (s *Server) socket(connID string) *socketio.Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sockets[connID]
}

func (s *Server) Join(connID, roomID string) {
	if socket := s.socket(connID); socket != nil {
		socket.Join(socketio.Room(roomID))
	}
}

func (s *Server) Leave(connID, roomID string) {
	if socket := s.socket(connID); socket != nil {
		socket.Leave(socketio.Room(roomID))
	}
}

func (s *Server) Emit(connID, event string, args ...any) {
	if socket := s.socket(connID); socket != nil {
		_ = socket.Emit(event, args...)
	}
}

func (s *Server) Broadcast(roomID, exceptConnID, event string, args ...any) {
	room := socketio.Room(roomID)
	if exceptConnID != "" {
		if socket := s.socket(exceptConnID); socket != nil {
			_ = socket.Broadcast().To(room).Emit(event, args...)
			return
		}
	}
	_ = s.srv.To(room).Emit(event, args...)
}

type handlerFunc func(ctx context.Context, connID string, args []any) error

// handlers decode each client event and hand it to the hub.
func (s *Server) handlers() map[string]handlerFunc {
	h := s.hub
	byRoom := func(op func(context.Context, string, string) error) handlerFunc {
		return func(ctx context.Context, connID string, args []any) error {
			roomID, err := roomArg(args)
			if err != nil {
				return s.invalid(connID, err)
			}
			return op(ctx, connID, roomID)
		}
	}
	signal := func(key string, op func(context.Context, string, string, any) error) handlerFunc {
		return func(ctx context.Context, connID string, args []any) error {
			roomID, payload, err := objectArg(args, key)
			if err != nil {
				return s.invalid(connID, err)
			}
			return op(ctx, connID, roomID, payload)
		}
	}

	return map[string]handlerFunc{
		hub.EventAuthenticate: func(ctx context.Context, connID string, args []any) error {
			token, err := tokenArg(args)
			if err != nil {
				return s.invalid(connID, err)
			}
			_, err = h.Authenticate(ctx, connID, token)
			return err
		},
		hub.EventJoinRoom:            byRoom(h.JoinRoom),
		hub.EventLeaveRoom:           byRoom(h.LeaveRoom),
		hub.EventRequestInitialState: byRoom(h.RequestInitialState),
		hub.EventTrackPresence:       byRoom(h.TrackPresence),
		hub.EventGetActiveUsers:      byRoom(h.GetActiveUsers),
		hub.EventOffer:               signal("offer", h.Offer),
		hub.EventAnswer:              signal("answer", h.Answer),
		hub.EventICECandidate:        signal("candidate", h.ICECandidate),
		hub.EventCodeUpdate: func(ctx context.Context, connID string, args []any) error {
			roomID, raw, err := objectArg(args, "update")
			if err != nil {
				return s.invalid(connID, err)
			}
			update, err := toBytes(raw)
			if err != nil {
				return s.invalid(connID, err)
			}
			return h.CodeUpdate(ctx, connID, roomID, update)
		},
	}
}

// invalid reports a payload that never reached the hub.
func (s *Server) invalid(connID string, err error) error {
	logrus.WithField("conn_id", connID).WithError(err).Debug("Malformed event")
	s.Emit(connID, hub.EventError, core.Reason(err))
	return err
}

// connect registers connID and, when the handshake carried auth.token,
// authenticates it right away.
func (s *Server) connect(ctx context.Context, connID string, auth any) {
	s.hub.Connect(connID)
	if token := handshakeToken(auth); token != "" {
		_, _ = s.hub.Authenticate(ctx, connID, token)
	}
}

// dispatch runs one client event and answers its acknowledgement, if any.
func (s *Server) dispatch(ctx context.Context, connID string, handle handlerFunc, datas []any) {
	ack, args := extractAck(datas)
	respond(ack, handle(ctx, connID, args))
}

func (s *Server) disconnect(connID string) {
	s.hub.Disconnect(connID)

	s.mu.Lock()
	delete(s.sockets, connID)
	s.mu.Unlock()
}

// Attach starts routing connections to h.
func (s *Server) Attach(h *hub.Hub) {
	s.hub = h
	handlers := s.handlers()

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	s.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		connID := string(socket.Id())
		ctx, cancel := context.WithCancel(context.Background())

		s.mu.Lock()
		s.sockets[connID] = socket
		s.mu.Unlock()
		utils.Log().Printf("Socket %v connected\n", connID)
		s.connect(ctx, connID, socket.Handshake().Auth)

		for event, handle := range handlers {
			handle := handle
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				s.dispatch(ctx, connID, handle, datas)
			})
		}

		socket.On("disconnecting", func(datas ...any) {
			utils.Log().Printf("disconnecting %v\n", connID)
			h.Disconnect(connID)
		})

		socket.On("disconnect", func(datas ...any) {
			cancel()
			s.disconnect(connID)

			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})
}
