// Package messaging gates and delivers direct messages between users.
package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/access"
	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/metrics"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
)

type Store interface {
	db.MessageCollection
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	ListTrips(ctx context.Context, scope models.TripScope, filter models.TripFilter) ([]models.TripDetail, error)
}

// DefaultType is the message type used when the sender does not name one.
// Parent messages default to "feedback" even when they are plain chat.
func DefaultType(role models.Role) string {
	switch role {
	case models.RoleAdmin, models.RoleDriver:
		return models.MessageNotification
	case models.RoleParent:
		return models.MessageFeedback
	default:
		return models.MessageChat
	}
}

func validType(t string) bool {
	switch t {
	case models.MessageChat, models.MessageNotification, models.MessageFeedback:
		return true
	}
	return false
}

type Service struct {
	store   Store
	pub     realtime.Publisher
	metrics *metrics.Metrics
	window  time.Duration
	now     func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithWindow sets how far back a shared trip links a driver and a parent.
func WithWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, pub realtime.Publisher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		pub:    pub,
		window: access.MessagingWindow,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send persists a message from sender and pushes it to both inbox rooms.
func (s *Service) Send(ctx context.Context, sender models.Principal, req models.SendMessageRequest) (*models.Message, error) {
	receiverID, err := primitive.ObjectIDFromHex(req.ReceiverID)
	if err != nil {
		return nil, apperr.Invalidf("receiver_id must be a valid id")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.Invalidf("content is required")
	}
	typ := req.Type
	if typ == "" {
		typ = DefaultType(sender.Role)
	}
	if !validType(typ) {
		return nil, apperr.Invalidf("type must be chat, notification or feedback")
	}
	if typ == models.MessageNotification && sender.Role != models.RoleAdmin && sender.Role != models.RoleDriver {
		return nil, apperr.Forbiddenf("only administrators and drivers may send notifications")
	}

	receiver, err := s.store.FindUserByID(ctx, receiverID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFoundf("recipient not found")
	}
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	to := models.Principal{UserID: receiver.ID, Role: receiver.Role}
	allowed, err := s.allowed(ctx, sender, to)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperr.Forbiddenf("you may not message this user")
	}

	msg := &models.Message{
		SenderID:   sender.UserID,
		ReceiverID: receiver.ID,
		Content:    content,
		Type:       typ,
		Timestamp:  s.now(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		log.WithError(err).Error("insert message")
		return nil, apperr.Internalf(err)
	}
	s.metrics.MessageSent(typ)

	ev, err := realtime.NewEvent(realtime.EventMessageBroadcast, msg)
	if err != nil {
		return msg, nil
	}
	for _, room := range []string{realtime.InboxRoom(sender.UserID), realtime.InboxRoom(receiver.ID)} {
		if err := s.pub.Publish(ctx, room, ev); err != nil {
			log.WithError(err).WithField("room", room).Warn("message broadcast failed")
		}
	}
	return msg, nil
}

// allowed evaluates the gate, fetching the trips that could link the pair.
func (s *Service) allowed(ctx context.Context, from, to models.Principal) (bool, error) {
	var shared []models.TripDetail
	var scope models.TripScope
	switch {
	case from.Role == models.RoleDriver && to.Role == models.RoleParent:
		scope = models.TripScope{DriverUserID: &from.UserID, ParentUserID: &to.UserID}
	case from.Role == models.RoleParent && to.Role == models.RoleDriver:
		scope = models.TripScope{DriverUserID: &to.UserID, ParentUserID: &from.UserID}
	}
	if scope.DriverUserID != nil {
		trips, err := s.store.ListTrips(ctx, scope, models.TripFilter{})
		if err != nil {
			log.WithError(err).Error("list shared trips")
			return false, apperr.Internalf(err)
		}
		shared = trips
	}
	return access.CanMessage(from, to, shared, s.since()), nil
}

func (s *Service) since() time.Time { return s.now().Add(-s.window) }

// Conversations groups every message touching the user by counterpart and
// keeps only the latest one per counterpart, newest conversation first.
func (s *Service) Conversations(ctx context.Context, p models.Principal) ([]models.Conversation, error) {
	msgs, err := s.store.ListMessagesFor(ctx, p.UserID)
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	latest := make(map[primitive.ObjectID]models.Conversation)
	for _, m := range msgs {
		other := m.ReceiverID
		if other == p.UserID {
			other = m.SenderID
		}
		if c, ok := latest[other]; ok && c.LastTimestamp.After(m.Timestamp) {
			continue
		}
		latest[other] = models.Conversation{
			CounterpartID: other,
			LastMessage:   m.Content,
			LastType:      m.Type,
			LastTimestamp: m.Timestamp,
		}
	}

	ids := make([]primitive.ObjectID, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	users, err := s.store.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	byID := make(map[primitive.ObjectID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]models.Conversation, 0, len(latest))
	for id, c := range latest {
		if u, ok := byID[id]; ok {
			u := u
			c.Counterpart = &u
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastTimestamp.After(out[j].LastTimestamp) })
	return out, nil
}

// Thread returns the messages between the caller and other, oldest first.
func (s *Service) Thread(ctx context.Context, p models.Principal, other string) ([]models.Message, error) {
	otherID, err := primitive.ObjectIDFromHex(other)
	if err != nil {
		return nil, apperr.Invalidf("user id must be a valid id")
	}
	msgs, err := s.store.ListThread(ctx, p.UserID, otherID)
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	return msgs, nil
}

// Recipients lists the users the caller may message right now.
func (s *Service) Recipients(ctx context.Context, p models.Principal) ([]models.User, error) {
	var roles []models.Role
	var trips []models.TripDetail
	switch p.Role {
	case models.RoleAdmin:
		roles = []models.Role{models.RoleAdmin, models.RoleDriver, models.RoleParent}
	case models.RoleDriver:
		roles = []models.Role{models.RoleAdmin, models.RoleParent}
	case models.RoleParent:
		roles = []models.Role{models.RoleAdmin, models.RoleDriver}
	default:
		return []models.User{}, nil
	}
	if p.Role != models.RoleAdmin {
		scope, _ := access.TripScopeFor(p)
		var err error
		if trips, err = s.store.ListTrips(ctx, scope, models.TripFilter{}); err != nil {
			return nil, apperr.Internalf(err)
		}
	}

	since := s.since()
	out := []models.User{}
	for _, role := range roles {
		users, err := s.store.ListUsersByRole(ctx, role)
		if err != nil {
			return nil, apperr.Internalf(err)
		}
		for _, u := range users {
			if access.CanMessage(p, models.Principal{UserID: u.ID, Role: u.Role}, trips, since) {
				out = append(out, u)
			}
		}
	}
	return out, nil
}
