package db

import (
	"github.com/ukydev/school-bus-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// detailIndex holds the lookups needed to turn trips into TripDetails.
type detailIndex struct {
	driverUsers    map[primitive.ObjectID]primitive.ObjectID  // driver profile -> user
	studentParents map[primitive.ObjectID]*primitive.ObjectID // student -> parent profile
	parentUsers    map[primitive.ObjectID]primitive.ObjectID  // parent profile -> user
}

func newDetailIndex() detailIndex {
	return detailIndex{
		driverUsers:    make(map[primitive.ObjectID]primitive.ObjectID),
		studentParents: make(map[primitive.ObjectID]*primitive.ObjectID),
		parentUsers:    make(map[primitive.ObjectID]primitive.ObjectID),
	}
}

func (ix detailIndex) detail(t models.Trip) models.TripDetail {
	d := models.TripDetail{Trip: t, DriverUserID: ix.driverUsers[t.DriverID]}
	d.Riders = make([]models.TripRider, 0, len(t.StudentIDs))
	for _, sid := range t.StudentIDs {
		r := models.TripRider{StudentID: sid}
		if pid := ix.studentParents[sid]; pid != nil {
			parentID := *pid
			r.ParentID = &parentID
			if uid, ok := ix.parentUsers[parentID]; ok {
				r.ParentUserID = &uid
			}
		}
		d.Riders = append(d.Riders, r)
	}
	return d
}

// tripRefs collects the distinct driver and student ids referenced by trips.
func tripRefs(trips []models.Trip) (drivers, students []primitive.ObjectID) {
	seenD := make(map[primitive.ObjectID]bool)
	seenS := make(map[primitive.ObjectID]bool)
	for _, t := range trips {
		if !seenD[t.DriverID] {
			seenD[t.DriverID] = true
			drivers = append(drivers, t.DriverID)
		}
		for _, s := range t.StudentIDs {
			if !seenS[s] {
				seenS[s] = true
				students = append(students, s)
			}
		}
	}
	return drivers, students
}
