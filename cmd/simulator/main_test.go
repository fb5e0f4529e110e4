package main

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/school-bus-tracker/internal/auth"
	"github.com/ukydev/school-bus-tracker/internal/db/dbtest"
	"github.com/ukydev/school-bus-tracker/internal/handlers"
	"github.com/ukydev/school-bus-tracker/internal/messaging"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
	"github.com/ukydev/school-bus-tracker/internal/socket"
	"github.com/ukydev/school-bus-tracker/internal/tracking"
	"github.com/ukydev/school-bus-tracker/internal/trips"
)

func TestHaversineKm(t *testing.T) {
	london := Location{Lat: 51.5074, Lon: -0.1278}
	paris := Location{Lat: 48.8566, Lon: 2.3522}
	assert.InDelta(t, 343.5, haversineKm(london, paris), 2)
	assert.Zero(t, haversineKm(london, london))
}

func TestBearing(t *testing.T) {
	origin := Location{Lat: 0, Lon: 0}
	assert.InDelta(t, 0, bearing(origin, Location{Lat: 1, Lon: 0}), 0.01)
	assert.InDelta(t, 90, bearing(origin, Location{Lat: 0, Lon: 1}), 0.01)
	assert.InDelta(t, 180, bearing(origin, Location{Lat: -1, Lon: 0}), 0.01)
	assert.InDelta(t, 270, bearing(origin, Location{Lat: 0, Lon: -1}), 0.01)
}

func TestLerp(t *testing.T) {
	mid := lerp(Location{Lat: 0, Lon: 0}, Location{Lat: 2, Lon: 4}, 0.5)
	assert.Equal(t, Location{Lat: 1, Lon: 2}, mid)
}

func TestJitterLocation_StaysWithinRadius(t *testing.T) {
	for i := 0; i < 100; i++ {
		loc := jitterLocation(depot, 500)
		// the box corner is sqrt(2) * radius away
		assert.LessOrEqual(t, haversineKm(depot, loc), 0.5*math.Sqrt2+0.01)
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation(" -1.5, 36.75 ")
	require.NoError(t, err)
	assert.Equal(t, Location{Lat: -1.5, Lon: 36.75}, loc)

	for _, bad := range []string{"", "1", "a,b", "1,2,3"} {
		_, err := parseLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestStepAlongRoute(t *testing.T) {
	start := Location{Lat: 0, Lon: 0}
	end := Location{Lat: 0, Lon: 0.01} // about 1.1 km east
	s := &BusState{Position: start, SpeedKmh: 36, Route: &BusRoute{Points: []Location{start, end}}}

	// 36 km/h for 10 s is 100 m
	done := stepAlongRoute(s, 10)
	assert.False(t, done)
	assert.InDelta(t, 0.1, haversineKm(start, s.Position), 0.001)
	assert.InDelta(t, 90, s.Heading, 0.01)

	for i := 0; i < 20 && !done; i++ {
		done = stepAlongRoute(s, 10)
	}
	assert.True(t, done)
	assert.Equal(t, end, s.Position)

	assert.True(t, stepAlongRoute(&BusState{}, 10), "no route means nothing to drive")
}

func TestFetchOSRMRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/driving/36.800000,-1.300000;36.810000,-1.310000")
		_, _ = w.Write([]byte(`{"routes":[{"geometry":{"coordinates":[[36.8,-1.3],[36.805,-1.305],[36.81,-1.31]]}}]}`))
	}))
	defer srv.Close()
	defer func(prev string) { osrmBaseURL = prev }(osrmBaseURL)
	osrmBaseURL = srv.URL

	pts, err := fetchOSRMRoute(Location{Lat: -1.3, Lon: 36.8}, Location{Lat: -1.31, Lon: 36.81})
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, Location{Lat: -1.305, Lon: 36.805}, pts[1])
}

func TestPlanRoute_FallsBackToStraightLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	defer func(prev string) { osrmBaseURL = prev }(osrmBaseURL)
	osrmBaseURL = srv.URL

	a, b := Location{Lat: 1, Lon: 1}, Location{Lat: 2, Lon: 2}
	route := planRoute(a, b)
	assert.Equal(t, []Location{a, b}, route.Points)
}

func TestSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api":  "ws://localhost:8080/ws?token=tok",
		"http://localhost:8080/api/": "ws://localhost:8080/ws?token=tok",
		"https://bus.example.com":    "wss://bus.example.com/ws?token=tok",
	}
	for in, want := range cases {
		c := newClient(in)
		c.token = "tok"
		got, err := c.socketURL()
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

// fleet runs the real API on a fixture store with a driver who can log in.
type fleet struct {
	*dbtest.Fixture
	hub *realtime.Hub
	srv *httptest.Server
}

func newFleet(t *testing.T) *fleet {
	f := dbtest.New(t)
	hub := realtime.NewHub(realtime.WithSendBuffer(64))
	authService := auth.NewService("simulator-test", time.Hour)

	ctx := context.Background()
	user, err := f.Store.FindUserByID(ctx, f.Driver.UserID)
	require.NoError(t, err)
	user.PasswordHash, err = authService.HashPassword("driver-pass")
	require.NoError(t, err)
	require.NoError(t, f.Store.UpdateUser(ctx, user))

	tracker := tracking.NewService(f.Store, hub, nil, 0)
	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		Auth:                authService,
		Store:               f.Store,
		Trips:               trips.NewService(f.Store, hub, nil),
		Tracking:            tracker,
		Messages:            messaging.NewService(f.Store, hub),
		Realtime:            socket.NewServer(authService, hub, f.Store, tracker),
		AuthRateLimitPerMin: 100,
	}))
	t.Cleanup(srv.Close)
	return &fleet{Fixture: f, hub: hub, srv: srv}
}

func TestLogin_RejectsNonDrivers(t *testing.T) {
	fl := newFleet(t)
	c := newClient(fl.srv.URL + "/api")
	assert.Error(t, c.login("driver@school.test", "wrong-pass"))
	assert.Error(t, c.login("parent@school.test", "x"))
	assert.Empty(t, c.token)
}

func TestPickTrip_StartsScheduledTrip(t *testing.T) {
	fl := newFleet(t)
	c := newClient(fl.srv.URL + "/api")
	require.NoError(t, c.login("driver@school.test", "driver-pass"))

	id, err := c.pickTrip("")
	require.NoError(t, err)
	assert.Equal(t, fl.Trip.ID.Hex(), id)

	trip, err := fl.Store.FindTripByID(context.Background(), fl.Trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripInProgress, trip.Status)

	// an in-progress trip is resumed, not restarted
	again, err := c.pickTrip("")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestSimulation_StreamsLocationsToParents(t *testing.T) {
	fl := newFleet(t)
	c := newClient(fl.srv.URL + "/api")
	require.NoError(t, c.login("driver@school.test", "driver-pass"))
	id, err := c.pickTrip("")
	require.NoError(t, err)

	parent := fl.hub.Register(fl.Parent)
	fl.hub.Join(parent, realtime.TripRoom(fl.Trip.ID))

	conn, err := dial(c, id)
	require.NoError(t, err)
	defer conn.Close()
	go watch(conn)

	start := Location{Lat: -1.3, Lon: 36.8}
	end := Location{Lat: -1.3, Lon: 36.80003} // a few meters
	s := &BusState{TripID: id, Position: start, SpeedKmh: 40, Route: &BusRoute{Points: []Location{start, end}}}
	require.NoError(t, simulateBus(conn, s, 20*time.Millisecond))

	// the join is processed before the updates on the same connection
	var b tracking.Broadcast
	select {
	case ev := <-parent.Send():
		require.Equal(t, realtime.EventLocationBroadcast, ev.Name)
		require.NoError(t, json.Unmarshal(ev.Data, &b))
		assert.Equal(t, id, b.TripID)
	case <-time.After(2 * time.Second):
		t.Fatal("parent received no location")
	}

	assert.Eventually(t, func() bool {
		n, err := fl.Store.CountLocations(context.Background(), fl.Trip.ID)
		return err == nil && n > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, c.endTrip(id))
}
