// Package relay implements the rendezvous pairing service. It pairs exactly
// one sender and one receiver presenting the same code fingerprint, then
// blindly forwards whole frames in both directions, preserving frame type
// and per-direction order. It never inspects payloads past the hello.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/p2p-copy/internal/config"
	"github.com/kenneth/p2p-copy/internal/protocol"
)

const closeGrace = time.Second

// frame is one whole websocket message with its type preserved.
type frame struct {
	kind int
	data []byte
}

// party is one paired or waiting connection. Frames read before pairing are
// buffered in pending and flushed to the peer at adoption time, under mu, so
// per-direction order is preserved.
type party struct {
	role string
	conn *websocket.Conn

	mu      sync.Mutex
	peer    *websocket.Conn
	pending []frame
}

// Server is the relay. The waiting table is the only shared mutable state;
// its mutex is held only across the membership decision.
type Server struct {
	log      *logrus.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	waiting map[string]*party
}

// New builds a relay server.
func New(log *logrus.Logger, metrics *Metrics) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		log:     log,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// The relay is a public rendezvous point; browsers are not a
			// supported client, so origin checks carry no meaning here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		waiting: make(map[string]*party),
	}
}

// Handler returns the relay's HTTP surface: the websocket endpoint at /,
// /healthz, and prometheus metrics at /metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").HandlerFunc(s.handleWS)
	return r
}

// ListenAndServe runs the relay until the listener fails.
func (s *Server) ListenAndServe(cfg config.RelayConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.Listen, Handler: s.Handler()}
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	s.log.WithFields(logrus.Fields{"listen": cfg.Listen, "scheme": scheme}).Info("relay listening")
	if cfg.TLS.Enabled {
		return srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.handle(conn, r.RemoteAddr)
}

// handle reads the hello, runs the pairing decision, then forwards frames
// until either side fails.
func (s *Server) handle(conn *websocket.Conn, remote string) {
	log := s.log.WithField("remote", remote)

	kind, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	if kind != websocket.TextMessage {
		s.reject(conn, "not_text", "Expected hello text frame")
		return
	}
	var hello protocol.Hello
	if err := json.Unmarshal(raw, &hello); err != nil {
		s.reject(conn, "invalid_json", "Invalid hello")
		return
	}
	if hello.Type != protocol.TypeHello {
		s.reject(conn, "not_hello", "First frame must be hello")
		return
	}
	if hello.CodeHashHex == "" || (hello.Role != protocol.RoleSender && hello.Role != protocol.RoleReceiver) {
		s.reject(conn, "bad_fields", "Bad hello")
		return
	}

	self := &party{role: hello.Role, conn: conn}
	var other *party

	s.mu.Lock()
	if waiting, ok := s.waiting[hello.CodeHashHex]; ok {
		if waiting.role == hello.Role {
			s.mu.Unlock()
			s.reject(conn, "role_conflict", "Peer with same role already waiting")
			return
		}
		delete(s.waiting, hello.CodeHashHex)
		s.metrics.waitingPeers.Dec()
		other = waiting
	} else {
		s.waiting[hello.CodeHashHex] = self
		s.metrics.waitingPeers.Inc()
	}
	s.mu.Unlock()

	if other == nil {
		log.WithField("role", hello.Role).Debug("waiting for peer")
		s.forward(self, hello.CodeHashHex)
		return
	}

	s.metrics.pairsTotal.Inc()
	log.WithField("role", hello.Role).Info("paired")

	// Hand the adopter's connection to the waiter and flush anything the
	// waiter sent while alone. peer is set under the same lock, so frames
	// read concurrently by the waiter's loop cannot overtake the flush.
	self.peer = conn2peer(other, conn)
	s.forward(self, "")
}

// conn2peer attaches adopter as the waiter's peer and drains the waiter's
// pre-pairing backlog onto it, in order. Returns the waiter's connection.
func conn2peer(waiter *party, adopter *websocket.Conn) *websocket.Conn {
	waiter.mu.Lock()
	defer waiter.mu.Unlock()
	for _, f := range waiter.pending {
		if err := adopter.WriteMessage(f.kind, f.data); err != nil {
			break
		}
	}
	waiter.pending = nil
	waiter.peer = adopter
	return waiter.conn
}

// forward reads whole frames from self and writes them to the peer, or
// buffers them while no peer is attached yet. codeHash is non-empty only
// for a waiter, for table cleanup when it disconnects before pairing.
func (s *Server) forward(self *party, codeHash string) {
	for {
		kind, data, err := self.conn.ReadMessage()
		if err != nil {
			s.finish(self, codeHash, err)
			return
		}
		self.mu.Lock()
		peer := self.peer
		if peer == nil {
			self.pending = append(self.pending, frame{kind: kind, data: data})
			self.mu.Unlock()
			continue
		}
		werr := peer.WriteMessage(kind, data)
		self.mu.Unlock()
		if werr != nil {
			s.finish(self, codeHash, werr)
			return
		}
		s.countFrame(kind, len(data))
	}
}

func (s *Server) countFrame(kind int, n int) {
	label := "binary"
	if kind == websocket.TextMessage {
		label = "text"
	}
	s.metrics.framesForwarded.WithLabelValues(label).Inc()
	s.metrics.bytesForwarded.Add(float64(n))
}

// finish tears a connection down after a read or write error: the waiting
// entry is removed only if it still refers to this party, and a paired peer
// is closed along with us so both sides observe the failure.
func (s *Server) finish(self *party, codeHash string, cause error) {
	self.mu.Lock()
	peer := self.peer
	self.mu.Unlock()

	abnormal := cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if peer != nil {
		if abnormal {
			s.metrics.forwardErrors.Inc()
		}
		closeQuietly(peer)
	} else if codeHash != "" {
		s.mu.Lock()
		if s.waiting[codeHash] == self {
			delete(s.waiting, codeHash)
			s.metrics.waitingPeers.Dec()
		}
		s.mu.Unlock()
	}
	closeQuietly(self.conn)
	if abnormal {
		s.log.WithError(cause).Debug("forwarding ended")
	}
}

func (s *Server) reject(conn *websocket.Conn, reason, message string) {
	s.metrics.rejectsTotal.WithLabelValues(reason).Inc()
	code := websocket.CloseProtocolError
	if reason == "role_conflict" {
		code = websocket.CloseTryAgainLater
	}
	msg := websocket.FormatCloseMessage(code, message)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	conn.Close()
}

func closeQuietly(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	conn.Close()
}
