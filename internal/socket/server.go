// Package socket is the WebSocket transport of the realtime surface. Each
// connection authenticates once at the handshake, becomes a hub session and
// exchanges realtime.Event envelopes until it closes.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/access"
	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/auth"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
	"github.com/ukydev/school-bus-tracker/internal/tracking"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
)

// TripFinder loads the trip a join request names.
type TripFinder interface {
	FindTripByID(ctx context.Context, id primitive.ObjectID) (*models.TripDetail, error)
}

// Server upgrades authenticated HTTP requests to WebSocket sessions.
type Server struct {
	auth     *auth.Service
	hub      *realtime.Hub
	trips    TripFinder
	tracking *tracking.Service

	upgrader       websocket.Upgrader
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

type Option func(*Server)

// WithPongWait sets how long a silent peer is tolerated. Pings go out at
// nine tenths of it.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
			s.pingPeriod = d * 9 / 10
		}
	}
}

// WithMaxMessageSize bounds inbound frames. Larger frames close the connection.
func WithMaxMessageSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageSize = n
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

func NewServer(authService *auth.Service, hub *realtime.Hub, trips TripFinder, tracker *tracking.Service, opts ...Option) *Server {
	s := &Server{
		auth:     authService,
		hub:      hub,
		trips:    trips,
		tracking: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// bearer tokens, not cookies, authenticate the connection
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		pingPeriod:     defaultPongWait * 9 / 10,
		maxMessageSize: defaultMaxMessageSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// token reads the credential from ?token= or the Authorization header.
func (s *Server) token(r *http.Request) (string, error) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return s.auth.ExtractTokenFromHeader(r.Header.Get("Authorization"))
}

// ServeHTTP authenticates before upgrading so a bad credential is a plain 401.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := s.token(r)
	if err != nil {
		apperr.WriteStatus(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		apperr.WriteStatus(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	sess := s.hub.Register(claims.Principal())
	c := &client{server: s, conn: conn, session: sess}
	log.WithFields(log.Fields{"session": sess.ID, "user_id": claims.UserID, "role": claims.Role}).Info("realtime connected")

	go c.writePump()
	c.readPump()
}

// client pairs a connection with its hub session. readPump runs on the
// handler goroutine and owns reads; writePump owns every write.
type client struct {
	server  *Server
	conn    *websocket.Conn
	session *realtime.Session
}

func (c *client) readPump() {
	s := c.server
	defer func() {
		s.hub.Unregister(c.session)
		c.conn.Close()
		log.WithField("session", c.session.ID).Info("realtime disconnected")
	}()

	c.conn.SetReadLimit(s.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("session", c.session.ID).Warn("realtime read failed")
			}
			return
		}
		var ev realtime.Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Name == "" {
			s.hub.SendTo(c.session, realtime.ErrorEvent("malformed event"))
			continue
		}
		c.dispatch(ev)
	}
}

func (c *client) writePump() {
	s := c.server
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.session.Send():
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one client event. Failures become error events on this
// connection only; the connection stays open.
func (c *client) dispatch(ev realtime.Event) {
	var err error
	switch ev.Name {
	case realtime.EventJoinTrip:
		err = c.joinTrip(ev.Data)
	case realtime.EventLeaveTrip:
		err = c.leaveTrip(ev.Data)
	case realtime.EventLocationUpdate:
		err = c.locationUpdate(ev.Data)
	default:
		err = apperr.Invalidf("unknown event " + ev.Name)
	}
	if err != nil {
		c.fail(ev.Name, err)
	}
}

func (c *client) fail(name string, err error) {
	msg := apperr.Message(err)
	if apperr.KindOf(err) == apperr.Internal {
		log.WithError(err).WithFields(log.Fields{"session": c.session.ID, "event": name}).Error("realtime event failed")
	}
	c.server.hub.SendTo(c.session, realtime.ErrorEvent(msg))
}

func decodeTrip(data json.RawMessage) (realtime.TripPayload, primitive.ObjectID, error) {
	var p realtime.TripPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, primitive.NilObjectID, apperr.Invalidf("malformed payload")
	}
	id, err := primitive.ObjectIDFromHex(p.TripID)
	if err != nil {
		return p, primitive.NilObjectID, apperr.NotFoundf("trip not found")
	}
	return p, id, nil
}

// joinTrip subscribes the session to a trip room after the same visibility
// check the REST trip fetch uses.
func (c *client) joinTrip(data json.RawMessage) error {
	s := c.server
	payload, id, err := decodeTrip(data)
	if err != nil {
		return err
	}
	trip, err := s.trips.FindTripByID(context.Background(), id)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFoundf("trip not found")
	}
	if err != nil {
		return apperr.Internalf(err)
	}
	if !access.CanJoinTripRoom(c.session.Principal, trip) {
		return apperr.NotFoundf("trip not found")
	}

	s.hub.Join(c.session, realtime.TripRoom(id))
	reply, err := realtime.NewEvent(realtime.EventJoinedTrip, realtime.TripPayload{TripID: payload.TripID})
	if err != nil {
		return apperr.Internalf(err)
	}
	s.hub.SendTo(c.session, reply)
	return nil
}

func (c *client) leaveTrip(data json.RawMessage) error {
	s := c.server
	payload, id, err := decodeTrip(data)
	if err != nil {
		return err
	}
	s.hub.Leave(c.session, realtime.TripRoom(id))
	reply, err := realtime.NewEvent(realtime.EventLeftTrip, realtime.TripPayload{TripID: payload.TripID})
	if err != nil {
		return apperr.Internalf(err)
	}
	s.hub.SendTo(c.session, reply)
	return nil
}

// locationPayload is realtime.LocationUpdate with the numbers left raw, so
// a non-numeric value does not pre-empt the role and trip checks.
type locationPayload struct {
	TripID    string          `json:"tripId"`
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
	Speed     json.RawMessage `json:"speed"`
	Heading   json.RawMessage `json:"heading"`
}

func (c *client) locationUpdate(data json.RawMessage) error {
	var u locationPayload
	if err := json.Unmarshal(data, &u); err != nil {
		return apperr.Invalidf("malformed payload")
	}
	in := tracking.SubmissionFromJSON(u.TripID, u.Latitude, u.Longitude, u.Speed, u.Heading)
	_, err := c.server.tracking.Submit(context.Background(), c.session.Principal, in)
	return err
}
