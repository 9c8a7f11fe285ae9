package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jward/tracegraph"
	"github.com/jward/tracegraph/internal/monitor"
	"github.com/jward/tracegraph/internal/store"
)

// Message types of the runtime protocol.
const (
	MsgInit    = "init"
	MsgData    = "data"
	MsgEvents  = "events"
	MsgInitAck = "init_ack"
	MsgAck     = "ack"
	MsgError   = "error"
)

var errNotInitialized = errors.New("init required before data")

// Inbound is a message sent by an instrumented runtime.
type Inbound struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`

	// ApplicationUUID is set on init by a runtime that reconnects.
	ApplicationUUID string          `json:"applicationUuid,omitempty"`
	Data            *store.Batch    `json:"data,omitempty"`
	Events          []monitor.Event `json:"events,omitempty"`
}

// Outbound answers exactly one Inbound message.
type Outbound struct {
	Type            string           `json:"type"`
	Seq             uint64           `json:"seq,omitempty"`
	ApplicationID   tracegraph.ID    `json:"applicationId,omitempty"`
	ApplicationUUID string           `json:"applicationUuid,omitempty"`
	Results         []monitor.Result `json:"results,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// session is the server side of one runtime connection.
type session struct {
	s   *Server
	app *tracegraph.Application
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.trackConn(conn)
	defer func() {
		s.untrackConn(conn)
		conn.Close()
	}()

	sess := &session{s: s}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("runtime connection closed", "error", err)
			}
			return
		}
		if err := conn.WriteJSON(sess.handle(data)); err != nil {
			s.logger.Warn("runtime write failed", "error", err)
			return
		}
	}
}

func (sess *session) handle(data []byte) Outbound {
	m := sess.s.metrics

	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		m.protocolErrors.WithLabelValues("invalid").Inc()
		return Outbound{Type: MsgError, Error: fmt.Sprintf("invalid message: %v", err)}
	}

	switch msg.Type {
	case MsgInit, MsgData, MsgEvents:
		m.messages.WithLabelValues(msg.Type).Inc()
	default:
		m.protocolErrors.WithLabelValues("unknown").Inc()
		return Outbound{Type: MsgError, Seq: msg.Seq, Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}

	if msg.Type == MsgInit {
		app, err := sess.s.engine.Reconnect(msg.ApplicationUUID)
		if err != nil {
			m.protocolErrors.WithLabelValues(MsgInit).Inc()
			return Outbound{Type: MsgError, Seq: msg.Seq, Error: err.Error()}
		}
		sess.app = app
		sess.s.logger.Info("runtime connected", "app", app.ID(), "uuid", app.UUID())
		return Outbound{Type: MsgInitAck, Seq: msg.Seq, ApplicationID: app.ID(), ApplicationUUID: app.UUID()}
	}

	if sess.app == nil {
		m.protocolErrors.WithLabelValues(msg.Type).Inc()
		return Outbound{Type: MsgError, Seq: msg.Seq, Error: errNotInitialized.Error()}
	}

	reply := Outbound{Type: MsgAck, Seq: msg.Seq, ApplicationID: sess.app.ID()}
	var err error
	switch msg.Type {
	case MsgData:
		if msg.Data == nil {
			err = errors.New("data message without data")
			break
		}
		m.observeBatch(msg.Data)
		err = sess.app.AddData(msg.Data)
	case MsgEvents:
		reply.Results, err = sess.app.ApplyEvents(msg.Events)
	}
	if err != nil {
		m.protocolErrors.WithLabelValues(msg.Type).Inc()
		sess.s.logger.Warn("runtime message rejected", "app", sess.app.ID(), "type", msg.Type, "error", err)
		reply.Error = err.Error()
	}
	return reply
}
