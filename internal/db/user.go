package db

import (
	"context"
	"strings"
	"time"

	"github.com/ukydev/school-bus-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertUser inserts a new user into the database
func (s *MongoStore) InsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt, user.UpdatedAt = now, now
	user.IsActive = true

	_, err := s.col(colUsers).InsertOne(ctx, user)
	return translate(err)
}

// FindUserByID finds a user by their ID
func (s *MongoStore) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return findOne[models.User](ctx, s.col(colUsers), bson.M{"_id": id})
}

// FindUserByEmail finds a user by their email
func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return findOne[models.User](ctx, s.col(colUsers), bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

// FindUsersByIDs finds the users with the given ids
func (s *MongoStore) FindUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	return findAll[models.User](ctx, s.col(colUsers), bson.M{"_id": bson.M{"$in": ids}})
}

// ListUsersByRole lists the users holding a role, by name
func (s *MongoStore) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findAll[models.User](ctx, s.col(colUsers), bson.M{"role": role}, opts)
}

// CountUsersByRole counts the users holding a role
func (s *MongoStore) CountUsersByRole(ctx context.Context, role models.Role) (int64, error) {
	return s.col(colUsers).CountDocuments(ctx, bson.M{"role": role})
}

// UpdateUser replaces the mutable profile fields of a user. Role is never changed.
func (s *MongoStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := s.col(colUsers).UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{"$set": bson.M{
			"name":          user.Name,
			"phone":         user.Phone,
			"email":         strings.ToLower(strings.TrimSpace(user.Email)),
			"password_hash": user.PasswordHash,
			"is_active":     user.IsActive,
			"updated_at":    user.UpdatedAt,
		}},
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastLogin updates the last login time for a user
func (s *MongoStore) UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.col(colUsers).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_login": at, "updated_at": at}},
	)
	return err
}

// InsertDriver inserts a driver profile
func (s *MongoStore) InsertDriver(ctx context.Context, d *models.Driver) error {
	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	d.CreatedAt = time.Now().UTC()
	_, err := s.col(colDrivers).InsertOne(ctx, d)
	return translate(err)
}

// InsertParent inserts a parent profile
func (s *MongoStore) InsertParent(ctx context.Context, p *models.Parent) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.col(colParents).InsertOne(ctx, p)
	return translate(err)
}

// InsertAdministrator inserts an administrator profile
func (s *MongoStore) InsertAdministrator(ctx context.Context, a *models.Administrator) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.col(colAdministrators).InsertOne(ctx, a)
	return translate(err)
}

func (s *MongoStore) FindDriverByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	return findOne[models.Driver](ctx, s.col(colDrivers), bson.M{"_id": id})
}

func (s *MongoStore) FindDriverByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Driver, error) {
	return findOne[models.Driver](ctx, s.col(colDrivers), bson.M{"user_id": userID})
}

func (s *MongoStore) FindParentByID(ctx context.Context, id primitive.ObjectID) (*models.Parent, error) {
	return findOne[models.Parent](ctx, s.col(colParents), bson.M{"_id": id})
}

func (s *MongoStore) FindParentByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Parent, error) {
	return findOne[models.Parent](ctx, s.col(colParents), bson.M{"user_id": userID})
}

// ListDrivers lists driver profiles joined with their accounts
func (s *MongoStore) ListDrivers(ctx context.Context) ([]models.DriverWithUser, error) {
	drivers, err := findAll[models.Driver](ctx, s.col(colDrivers), bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.UserID)
	}
	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverWithUser, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, models.DriverWithUser{Driver: d, User: users[d.UserID]})
	}
	return out, nil
}

// ListParents lists parent profiles joined with their accounts
func (s *MongoStore) ListParents(ctx context.Context) ([]models.ParentWithUser, error) {
	parents, err := findAll[models.Parent](ctx, s.col(colParents), bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, p.UserID)
	}
	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.ParentWithUser, 0, len(parents))
	for _, p := range parents {
		out = append(out, models.ParentWithUser{Parent: p, User: users[p.UserID]})
	}
	return out, nil
}

func (s *MongoStore) usersByID(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	users, err := s.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	m := make(map[primitive.ObjectID]models.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return m, nil
}

// InsertStudent inserts a student; a reused admission number yields ErrDuplicate
func (s *MongoStore) InsertStudent(ctx context.Context, st *models.Student) error {
	now := time.Now().UTC()
	if st.ID.IsZero() {
		st.ID = primitive.NewObjectID()
	}
	st.CreatedAt, st.UpdatedAt = now, now
	_, err := s.col(colStudents).InsertOne(ctx, st)
	return translate(err)
}

func (s *MongoStore) FindStudentByID(ctx context.Context, id primitive.ObjectID) (*models.Student, error) {
	return findOne[models.Student](ctx, s.col(colStudents), bson.M{"_id": id})
}

func (s *MongoStore) FindStudentsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Student, error) {
	if len(ids) == 0 {
		return []models.Student{}, nil
	}
	return findAll[models.Student](ctx, s.col(colStudents), bson.M{"_id": bson.M{"$in": ids}})
}

// ListStudents lists students, optionally only one parent's
func (s *MongoStore) ListStudents(ctx context.Context, parentID *primitive.ObjectID) ([]models.Student, error) {
	q := bson.M{}
	if parentID != nil {
		q["parent_id"] = *parentID
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_name", Value: 1}, {Key: "first_name", Value: 1}})
	return findAll[models.Student](ctx, s.col(colStudents), q, opts)
}

// UpdateStudent replaces a student record
func (s *MongoStore) UpdateStudent(ctx context.Context, st *models.Student) error {
	st.UpdatedAt = time.Now().UTC()
	res, err := s.col(colStudents).ReplaceOne(ctx, bson.M{"_id": st.ID}, st)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertBus inserts a bus
func (s *MongoStore) InsertBus(ctx context.Context, b *models.Bus) error {
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	if b.Status == "" {
		b.Status = "active"
	}
	b.CreatedAt = time.Now().UTC()
	_, err := s.col(colBuses).InsertOne(ctx, b)
	return translate(err)
}

func (s *MongoStore) FindBusByID(ctx context.Context, id primitive.ObjectID) (*models.Bus, error) {
	return findOne[models.Bus](ctx, s.col(colBuses), bson.M{"_id": id})
}

func (s *MongoStore) ListBuses(ctx context.Context) ([]models.Bus, error) {
	opts := options.Find().SetSort(bson.D{{Key: "plate_number", Value: 1}})
	return findAll[models.Bus](ctx, s.col(colBuses), bson.M{}, opts)
}

// InsertRoute inserts a route
func (s *MongoStore) InsertRoute(ctx context.Context, r *models.Route) error {
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	if r.Stops == nil {
		r.Stops = []models.Location{}
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.col(colRoutes).InsertOne(ctx, r)
	return translate(err)
}

func (s *MongoStore) FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error) {
	return findOne[models.Route](ctx, s.col(colRoutes), bson.M{"_id": id})
}

func (s *MongoStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findAll[models.Route](ctx, s.col(colRoutes), bson.M{}, opts)
}
