package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/school-bus-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ Store = (*MongoStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

type attendanceKey struct{ trip, student primitive.ObjectID }

type feedbackKey struct {
	trip, parent primitive.ObjectID
	student      primitive.ObjectID // zero when the feedback names no student
}

type tripCursor struct {
	seq  int64
	last time.Time
}

// MemoryStore is a process-local Store guarded by a single mutex. Records are
// copied in and out so callers never share memory with the store.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	users          map[primitive.ObjectID]models.User
	drivers        map[primitive.ObjectID]models.Driver
	parents        map[primitive.ObjectID]models.Parent
	administrators map[primitive.ObjectID]models.Administrator
	students       map[primitive.ObjectID]models.Student
	buses          map[primitive.ObjectID]models.Bus
	routes         map[primitive.ObjectID]models.Route
	trips          map[primitive.ObjectID]models.Trip
	cursors        map[primitive.ObjectID]tripCursor
	locations      map[primitive.ObjectID][]models.LocationSample // by trip, in seq order
	attendance     map[attendanceKey]models.Attendance
	feedback       map[feedbackKey]models.TripFeedback
	messages       []models.Message
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:            func() time.Time { return time.Now().UTC() },
		users:          make(map[primitive.ObjectID]models.User),
		drivers:        make(map[primitive.ObjectID]models.Driver),
		parents:        make(map[primitive.ObjectID]models.Parent),
		administrators: make(map[primitive.ObjectID]models.Administrator),
		students:       make(map[primitive.ObjectID]models.Student),
		buses:          make(map[primitive.ObjectID]models.Bus),
		routes:         make(map[primitive.ObjectID]models.Route),
		trips:          make(map[primitive.ObjectID]models.Trip),
		cursors:        make(map[primitive.ObjectID]tripCursor),
		locations:      make(map[primitive.ObjectID][]models.LocationSample),
		attendance:     make(map[attendanceKey]models.Attendance),
		feedback:       make(map[feedbackKey]models.TripFeedback),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func newID(id primitive.ObjectID) primitive.ObjectID {
	if id.IsZero() {
		return primitive.NewObjectID()
	}
	return id
}

func cloneIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, len(ids))
	copy(out, ids)
	return out
}

// Trips

func (m *MemoryStore) InsertTrip(_ context.Context, trip *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	trip.ID = newID(trip.ID)
	if _, ok := m.trips[trip.ID]; ok {
		return ErrDuplicate
	}
	if trip.Status == "" {
		trip.Status = models.TripScheduled
	}
	trip.StudentIDs = cloneIDs(trip.StudentIDs)
	trip.CreatedAt, trip.UpdatedAt = now, now
	stored := *trip
	stored.StudentIDs = cloneIDs(trip.StudentIDs)
	m.trips[trip.ID] = stored
	return nil
}

func (m *MemoryStore) FindTripByID(_ context.Context, id primitive.ObjectID) (*models.TripDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	d := m.detailLocked(t)
	return &d, nil
}

func (m *MemoryStore) ListTrips(_ context.Context, scope models.TripScope, filter models.TripFilter) ([]models.TripDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.TripDetail{}
	for _, t := range m.trips {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Date != nil {
			day := filter.Date.UTC().Truncate(24 * time.Hour)
			if t.TripDate.Before(day) || !t.TripDate.Before(day.Add(24*time.Hour)) {
				continue
			}
		}
		d := m.detailLocked(t)
		if scope.DriverUserID != nil && d.DriverUserID != *scope.DriverUserID {
			continue
		}
		if scope.ParentUserID != nil && len(d.RidersOf(*scope.ParentUserID)) == 0 {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TripDate.Equal(out[j].TripDate) {
			return out[i].TripDate.After(out[j].TripDate)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return out, nil
}

func (m *MemoryStore) TransitionTrip(_ context.Context, id primitive.ObjectID, from, to models.TripStatus, at time.Time) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != from {
		return nil, ErrStatusMismatch
	}
	t.Status = to
	t.UpdatedAt = at
	stamp := at
	switch stampField(to) {
	case "start_time":
		t.StartTime = &stamp
	case "stop_time":
		t.StopTime = &stamp
	case "cancelled_at":
		t.CancelledAt = &stamp
	}
	m.trips[id] = t
	out := t
	out.StudentIDs = cloneIDs(t.StudentIDs)
	return &out, nil
}

func (m *MemoryStore) detailLocked(t models.Trip) models.TripDetail {
	ix := newDetailIndex()
	if d, ok := m.drivers[t.DriverID]; ok {
		ix.driverUsers[d.ID] = d.UserID
	}
	for _, sid := range t.StudentIDs {
		st, ok := m.students[sid]
		if !ok {
			continue
		}
		ix.studentParents[sid] = st.ParentID
		if st.ParentID != nil {
			if p, ok := m.parents[*st.ParentID]; ok {
				ix.parentUsers[p.ID] = p.UserID
			}
		}
	}
	t.StudentIDs = cloneIDs(t.StudentIDs)
	return ix.detail(t)
}

// Locations

func (m *MemoryStore) AppendLocation(_ context.Context, sample models.LocationSample) (*models.LocationSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[sample.TripID]
	if !ok || t.Status != models.TripInProgress {
		return nil, ErrStatusMismatch
	}
	cur := m.cursors[sample.TripID]
	at := m.now().Truncate(time.Millisecond)
	if !cur.last.IsZero() && !at.After(cur.last) {
		at = cur.last.Add(time.Millisecond)
	}
	cur.seq++
	cur.last = at
	m.cursors[sample.TripID] = cur

	sample.ID = primitive.NewObjectID()
	sample.Seq = cur.seq
	sample.CapturedAt = at
	m.locations[sample.TripID] = append(m.locations[sample.TripID], sample)
	return &sample, nil
}

func (m *MemoryStore) ListRecentLocations(_ context.Context, tripID primitive.ObjectID, limit int) ([]models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.locations[tripID]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.LocationSample, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) LatestLocation(_ context.Context, tripID primitive.ObjectID) (*models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.locations[tripID]
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	s := all[len(all)-1]
	return &s, nil
}

func (m *MemoryStore) FirstLocation(_ context.Context, tripID primitive.ObjectID) (*models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.locations[tripID]
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	s := all[0]
	return &s, nil
}

func (m *MemoryStore) CountLocations(_ context.Context, tripID primitive.ObjectID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.locations[tripID])), nil
}

// Attendance and feedback

func (m *MemoryStore) UpsertAttendance(_ context.Context, a models.Attendance) (*models.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{a.TripID, a.StudentID}
	if prev, ok := m.attendance[key]; ok {
		a.ID = prev.ID
	} else {
		a.ID = newID(a.ID)
	}
	m.attendance[key] = a
	return &a, nil
}

func (m *MemoryStore) ListAttendance(_ context.Context, tripID primitive.ObjectID) ([]models.Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Attendance{}
	for k, a := range m.attendance {
		if k.trip == tripID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func fbKey(tripID, parentID primitive.ObjectID, studentID *primitive.ObjectID) feedbackKey {
	k := feedbackKey{trip: tripID, parent: parentID}
	if studentID != nil {
		k.student = *studentID
	}
	return k
}

func (m *MemoryStore) InsertFeedback(_ context.Context, fb *models.TripFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fbKey(fb.TripID, fb.ParentID, fb.StudentID)
	if _, ok := m.feedback[key]; ok {
		return ErrDuplicate
	}
	fb.ID = newID(fb.ID)
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = m.now()
	}
	m.feedback[key] = *fb
	return nil
}

func (m *MemoryStore) FeedbackExists(_ context.Context, tripID, parentID primitive.ObjectID, studentID *primitive.ObjectID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.feedback[fbKey(tripID, parentID, studentID)]
	return ok, nil
}

func (m *MemoryStore) ListFeedback(_ context.Context, tripID primitive.ObjectID) ([]models.TripFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.TripFeedback{}
	for k, fb := range m.feedback {
		if k.trip == tripID {
			out = append(out, fb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Messages

func (m *MemoryStore) InsertMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = newID(msg.ID)
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *MemoryStore) ListMessagesFor(_ context.Context, userID primitive.ObjectID) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Message{}
	for _, msg := range m.messages {
		if msg.SenderID == userID || msg.ReceiverID == userID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListThread(_ context.Context, a, b primitive.ObjectID) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Message{}
	for _, msg := range m.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Users and profiles

func (m *MemoryStore) InsertUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	now := m.now()
	user.ID = newID(user.ID)
	user.CreatedAt, user.UpdatedAt = now, now
	user.IsActive = true
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) FindUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindUsersByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUsersByRole(_ context.Context, role models.Role) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.User{}
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CountUsersByRole(_ context.Context, role models.Role) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, u := range m.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	email := strings.ToLower(strings.TrimSpace(user.Email))
	for id, u := range m.users {
		if id != user.ID && u.Email == email {
			return ErrDuplicate
		}
	}
	cur.Name, cur.Phone, cur.Email = user.Name, user.Phone, email
	cur.PasswordHash, cur.IsActive = user.PasswordHash, user.IsActive
	cur.UpdatedAt = m.now()
	user.UpdatedAt = cur.UpdatedAt
	m.users[user.ID] = cur
	return nil
}

func (m *MemoryStore) UpdateLastLogin(_ context.Context, id primitive.ObjectID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = &at
	u.UpdatedAt = at
	m.users[id] = u
	return nil
}

func (m *MemoryStore) InsertDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.drivers {
		if x.UserID == d.UserID {
			return ErrDuplicate
		}
	}
	d.ID = newID(d.ID)
	d.CreatedAt = m.now()
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) InsertParent(_ context.Context, p *models.Parent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.parents {
		if x.UserID == p.UserID {
			return ErrDuplicate
		}
	}
	p.ID = newID(p.ID)
	p.CreatedAt = m.now()
	m.parents[p.ID] = *p
	return nil
}

func (m *MemoryStore) InsertAdministrator(_ context.Context, a *models.Administrator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.administrators {
		if x.UserID == a.UserID {
			return ErrDuplicate
		}
	}
	a.ID = newID(a.ID)
	a.CreatedAt = m.now()
	m.administrators[a.ID] = *a
	return nil
}

func (m *MemoryStore) FindDriverByID(_ context.Context, id primitive.ObjectID) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) FindDriverByUserID(_ context.Context, userID primitive.ObjectID) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.UserID == userID {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindParentByID(_ context.Context, id primitive.ObjectID) (*models.Parent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) FindParentByUserID(_ context.Context, userID primitive.ObjectID) (*models.Parent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.parents {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListDrivers(_ context.Context) ([]models.DriverWithUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.DriverWithUser{}
	for _, d := range m.drivers {
		out = append(out, models.DriverWithUser{Driver: d, User: m.users[d.UserID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.Name < out[j].User.Name })
	return out, nil
}

func (m *MemoryStore) ListParents(_ context.Context) ([]models.ParentWithUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ParentWithUser{}
	for _, p := range m.parents {
		out = append(out, models.ParentWithUser{Parent: p, User: m.users[p.UserID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.Name < out[j].User.Name })
	return out, nil
}

// Students

func (m *MemoryStore) InsertStudent(_ context.Context, st *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.students {
		if x.AdmissionNumber == st.AdmissionNumber {
			return ErrDuplicate
		}
	}
	now := m.now()
	st.ID = newID(st.ID)
	st.CreatedAt, st.UpdatedAt = now, now
	m.students[st.ID] = *st
	return nil
}

func (m *MemoryStore) FindStudentByID(_ context.Context, id primitive.ObjectID) (*models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) FindStudentsByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Student{}
	for _, id := range ids {
		if st, ok := m.students[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStudents(_ context.Context, parentID *primitive.ObjectID) ([]models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Student{}
	for _, st := range m.students {
		if parentID != nil && (st.ParentID == nil || *st.ParentID != *parentID) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

func (m *MemoryStore) UpdateStudent(_ context.Context, st *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[st.ID]
	if !ok {
		return ErrNotFound
	}
	for id, x := range m.students {
		if id != st.ID && x.AdmissionNumber == st.AdmissionNumber {
			return ErrDuplicate
		}
	}
	st.CreatedAt = cur.CreatedAt
	st.UpdatedAt = m.now()
	m.students[st.ID] = *st
	return nil
}

// Fleet

func (m *MemoryStore) InsertBus(_ context.Context, b *models.Bus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.buses {
		if x.PlateNumber == b.PlateNumber {
			return ErrDuplicate
		}
	}
	b.ID = newID(b.ID)
	if b.Status == "" {
		b.Status = "active"
	}
	b.CreatedAt = m.now()
	m.buses[b.ID] = *b
	return nil
}

func (m *MemoryStore) FindBusByID(_ context.Context, id primitive.ObjectID) (*models.Bus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemoryStore) ListBuses(_ context.Context) ([]models.Bus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Bus{}
	for _, b := range m.buses {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlateNumber < out[j].PlateNumber })
	return out, nil
}

func (m *MemoryStore) InsertRoute(_ context.Context, r *models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = newID(r.ID)
	if r.Stops == nil {
		r.Stops = []models.Location{}
	}
	r.CreatedAt = m.now()
	m.routes[r.ID] = *r
	return nil
}

func (m *MemoryStore) FindRouteByID(_ context.Context, id primitive.ObjectID) (*models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRoutes(_ context.Context) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Route{}
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
