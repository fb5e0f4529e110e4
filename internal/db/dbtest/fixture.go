// Package dbtest seeds an in-memory store with the people and trips most
// tests need.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// Fixture: an admin, two drivers, two parents with one child each, and a
// SCHEDULED trip driven by Driver carrying Parent's child.
type Fixture struct {
	Store *db.MemoryStore

	Admin, Driver, OtherDriver, Parent, OtherParent models.Principal

	DriverProfile, OtherDriverProfile models.Driver
	ParentProfile, OtherParentProfile models.Parent
	Child, OtherChild                 models.Student
	Bus                               models.Bus
	Route                             models.Route
	Trip                              models.Trip
}

// New builds the fixture on a fresh MemoryStore.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{Store: db.NewMemoryStore()}
	ctx := context.Background()

	f.Admin = f.user(t, "Ada Admin", "admin@school.test", models.RoleAdmin)
	require.NoError(t, f.Store.InsertAdministrator(ctx, &models.Administrator{UserID: f.Admin.UserID, Position: "Transport lead"}))

	f.Driver = f.user(t, "Dan Driver", "driver@school.test", models.RoleDriver)
	f.DriverProfile = models.Driver{UserID: f.Driver.UserID, LicenseNumber: "DL-100"}
	require.NoError(t, f.Store.InsertDriver(ctx, &f.DriverProfile))

	f.OtherDriver = f.user(t, "Olive Driver", "driver2@school.test", models.RoleDriver)
	f.OtherDriverProfile = models.Driver{UserID: f.OtherDriver.UserID, LicenseNumber: "DL-200"}
	require.NoError(t, f.Store.InsertDriver(ctx, &f.OtherDriverProfile))

	f.Parent = f.user(t, "Pam Parent", "parent@school.test", models.RoleParent)
	f.ParentProfile = models.Parent{UserID: f.Parent.UserID, Address: "1 Elm St"}
	require.NoError(t, f.Store.InsertParent(ctx, &f.ParentProfile))

	f.OtherParent = f.user(t, "Otto Parent", "parent2@school.test", models.RoleParent)
	f.OtherParentProfile = models.Parent{UserID: f.OtherParent.UserID, Address: "2 Oak St"}
	require.NoError(t, f.Store.InsertParent(ctx, &f.OtherParentProfile))

	f.Child = models.Student{FirstName: "Sam", LastName: "Parent", AdmissionNumber: "ADM-1", Grade: "3", ParentID: &f.ParentProfile.ID}
	require.NoError(t, f.Store.InsertStudent(ctx, &f.Child))
	f.OtherChild = models.Student{FirstName: "Olga", LastName: "Parent", AdmissionNumber: "ADM-2", Grade: "4", ParentID: &f.OtherParentProfile.ID}
	require.NoError(t, f.Store.InsertStudent(ctx, &f.OtherChild))

	f.Bus = models.Bus{PlateNumber: "KBX 100A", Model: "Isuzu NQR", Capacity: 33}
	require.NoError(t, f.Store.InsertBus(ctx, &f.Bus))
	f.Route = models.Route{Name: "Route 4", Stops: []models.Location{{Lat: -1.28, Lng: 36.82}, {Lat: -1.29, Lng: 36.83}}}
	require.NoError(t, f.Store.InsertRoute(ctx, &f.Route))

	f.Trip = f.AddTrip(t, f.DriverProfile.ID, time.Now().UTC(), f.Child.ID)
	return f
}

func (f *Fixture) user(t testing.TB, name, email string, role models.Role) models.Principal {
	t.Helper()
	u := &models.User{Name: name, Email: email, Role: role, PasswordHash: "x"}
	require.NoError(t, f.Store.InsertUser(context.Background(), u))
	return models.Principal{UserID: u.ID, Role: role}
}

// AddTrip inserts a SCHEDULED trip for the driver profile on the given date.
func (f *Fixture) AddTrip(t testing.TB, driverID primitive.ObjectID, date time.Time, students ...primitive.ObjectID) models.Trip {
	t.Helper()
	trip := models.Trip{
		TripID:     "T-" + primitive.NewObjectID().Hex()[18:],
		TripDate:   date.UTC().Truncate(24 * time.Hour),
		BusID:      f.Bus.ID,
		RouteID:    f.Route.ID,
		DriverID:   driverID,
		StudentIDs: students,
	}
	require.NoError(t, f.Store.InsertTrip(context.Background(), &trip))
	return trip
}

// Start moves a trip to IN_PROGRESS directly in the store.
func (f *Fixture) Start(t testing.TB, tripID primitive.ObjectID) {
	t.Helper()
	_, err := f.Store.TransitionTrip(context.Background(), tripID, models.TripScheduled, models.TripInProgress, time.Now().UTC())
	require.NoError(t, err)
}
