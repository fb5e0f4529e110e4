package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
)

// Location is a point on the bus route.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Default depot, used when SIM_ORIGIN is not set.
var depot = Location{Lat: -1.2921, Lon: 36.8219}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func parseLocation(s string) (Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("want lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Location{}, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Location{}, err
	}
	return Location{Lat: lat, Lon: lon}, nil
}

// --- API client ---

type client struct {
	apiURL string
	token  string
	http   *http.Client
}

func newClient(apiURL string) *client {
	return &client{apiURL: strings.TrimRight(apiURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) do(method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewBuffer(data)
	}
	req, err := http.NewRequest(method, c.apiURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) login(email, password string) error {
	var res models.LoginResponse
	if err := c.do(http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password}, &res); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if res.User.Role != models.RoleDriver {
		return fmt.Errorf("%s is a %s, the simulator drives as a DRIVER", email, res.User.Role)
	}
	c.token = res.Token
	log.WithField("user", res.User.Email).Info("Logged in")
	return nil
}

// pickTrip returns the trip to drive: tripID if given, otherwise the
// driver's trip already in progress, otherwise today's first scheduled one.
// A scheduled trip is started.
func (c *client) pickTrip(tripID string) (string, error) {
	var trip models.TripDetail
	if tripID != "" {
		if err := c.do(http.MethodGet, "/trips/"+tripID, nil, &trip); err != nil {
			return "", err
		}
	} else {
		var found bool
		for _, status := range []models.TripStatus{models.TripInProgress, models.TripScheduled} {
			var list []models.TripDetail
			if err := c.do(http.MethodGet, "/trips?status="+string(status), nil, &list); err != nil {
				return "", err
			}
			if len(list) > 0 {
				trip, found = list[0], true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("no scheduled or active trip for this driver")
		}
	}

	id := trip.ID.Hex()
	switch trip.Status {
	case models.TripInProgress:
	case models.TripScheduled:
		if err := c.do(http.MethodPut, "/trips/"+id+"/start", nil, nil); err != nil {
			return "", err
		}
		log.WithField("trip_id", id).Info("Started trip")
	default:
		return "", fmt.Errorf("trip %s is %s", id, trip.Status)
	}
	return id, nil
}

func (c *client) endTrip(id string) error {
	return c.do(http.MethodPut, "/trips/"+id+"/end", nil, nil)
}

// socketURL maps http(s)://host/api to ws(s)://host/ws.
func (c *client) socketURL() (string, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api") + "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

// --- Routing & movement ---

type BusRoute struct {
	Points    []Location
	SegIndex  int
	SegOffset float64 // km along current segment
}

type BusState struct {
	TripID   string
	Position Location
	Heading  float64
	SpeedKmh float64
	Route    *BusRoute
}

func haversineKm(a, b Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

// bearing is the initial compass heading from a to b in degrees.
func bearing(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func lerp(a, b Location, t float64) Location {
	return Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

var osrmBaseURL = "https://router.project-osrm.org"

func fetchOSRMRoute(start, end Location) ([]Location, error) {
	target := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson", osrmBaseURL, start.Lon, start.Lat, end.Lon, end.Lat)
	resp, err := http.Get(target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]Location, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, Location{Lat: c[1], Lon: c[0]})
	}
	return pts, nil
}

// planRoute drives on roads from start to end when OSRM answers and in a
// straight line otherwise.
func planRoute(start, end Location) *BusRoute {
	pts, err := fetchOSRMRoute(start, end)
	if err != nil {
		log.WithError(err).Warn("OSRM unavailable, driving a straight line")
		pts = []Location{start, end}
	}
	return &BusRoute{Points: pts}
}

// stepAlongRoute advances the bus by one tick and reports whether the route
// is finished.
func stepAlongRoute(s *BusState, tickSec float64) bool {
	if s.Route == nil || len(s.Route.Points) < 2 {
		return true
	}
	remKm := s.SpeedKmh * (tickSec / 3600.0)
	for remKm > 0 && s.Route.SegIndex < len(s.Route.Points)-1 {
		a := s.Route.Points[s.Route.SegIndex]
		b := s.Route.Points[s.Route.SegIndex+1]
		s.Heading = bearing(a, b)
		segLen := haversineKm(a, b)
		leftOnSeg := segLen - s.Route.SegOffset
		if remKm >= leftOnSeg {
			s.Position = b
			s.Route.SegIndex++
			s.Route.SegOffset = 0
			remKm -= leftOnSeg
			continue
		}
		t := (s.Route.SegOffset + remKm) / segLen
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		s.Position = lerp(a, b, t)
		s.Route.SegOffset += remKm
		remKm = 0
	}
	return s.Route.SegIndex >= len(s.Route.Points)-1
}

func updateFromState(s *BusState) realtime.LocationUpdate {
	lat, lon := s.Position.Lat, s.Position.Lon
	speed, heading := s.SpeedKmh, s.Heading
	return realtime.LocationUpdate{TripID: s.TripID, Latitude: &lat, Longitude: &lon, Speed: &speed, Heading: &heading}
}

// --- Realtime session ---

func dial(c *client, tripID string) (*websocket.Conn, error) {
	target, err := c.socketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}
	if err := emit(conn, realtime.EventJoinTrip, realtime.TripPayload{TripID: tripID}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func emit(conn *websocket.Conn, name string, data interface{}) error {
	ev, err := realtime.NewEvent(name, data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// watch logs what the server sends back until the connection closes.
func watch(conn *websocket.Conn) {
	for {
		var ev realtime.Event
		if err := conn.ReadJSON(&ev); err != nil {
			log.WithError(err).Debug("realtime connection closed")
			return
		}
		entry := log.WithField("event", ev.Name)
		switch ev.Name {
		case realtime.EventError:
			var p realtime.ErrorPayload
			_ = json.Unmarshal(ev.Data, &p)
			entry.WithField("message", p.Message).Warn("Server rejected event")
		case realtime.EventLocationBroadcast:
			entry.Debug("Broadcast received")
		default:
			entry.Info("Server event")
		}
	}
}

func simulateBus(conn *websocket.Conn, s *BusState, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for range tick.C {
		s.SpeedKmh += (rand.Float64()*2 - 1) * 1.5
		if s.SpeedKmh < 10 {
			s.SpeedKmh = 10
		}
		if s.SpeedKmh > 60 {
			s.SpeedKmh = 60
		}

		done := stepAlongRoute(s, interval.Seconds())
		if err := emit(conn, realtime.EventLocationUpdate, updateFromState(s)); err != nil {
			return fmt.Errorf("failed to send location: %w", err)
		}
		log.WithFields(log.Fields{
			"trip_id": s.TripID,
			"lat":     fmt.Sprintf("%.5f", s.Position.Lat),
			"lon":     fmt.Sprintf("%.5f", s.Position.Lon),
			"speed":   fmt.Sprintf("%.1f", s.SpeedKmh),
		}).Info("Sent location")
		if done {
			return nil
		}
	}
	return nil
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	if v := os.Getenv("OSRM_URL"); v != "" {
		osrmBaseURL = strings.TrimRight(v, "/")
	}

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	origin := depot
	if v := os.Getenv("SIM_ORIGIN"); v != "" {
		loc, err := parseLocation(v)
		if err != nil {
			log.WithError(err).Fatal("Invalid SIM_ORIGIN")
		}
		origin = loc
	}
	destination := jitterLocation(origin, 4000)
	if v := os.Getenv("SIM_DESTINATION"); v != "" {
		loc, err := parseLocation(v)
		if err != nil {
			log.WithError(err).Fatal("Invalid SIM_DESTINATION")
		}
		destination = loc
	}

	log.WithFields(log.Fields{"api_url": apiURL, "interval": interval}).Info("Starting bus simulation")

	c := newClient(apiURL)
	if err := c.login(os.Getenv("SIM_EMAIL"), os.Getenv("SIM_PASSWORD")); err != nil {
		log.WithError(err).Fatal("Cannot authenticate. Set SIM_EMAIL and SIM_PASSWORD to a driver account.")
	}
	tripID, err := c.pickTrip(os.Getenv("SIM_TRIP_ID"))
	if err != nil {
		log.WithError(err).Fatal("No trip to drive")
	}

	conn, err := dial(c, tripID)
	if err != nil {
		log.WithError(err).Fatal("Cannot open realtime session")
	}
	defer conn.Close()
	go watch(conn)

	state := &BusState{
		TripID:   tripID,
		Position: origin,
		SpeedKmh: 20 + rand.Float64()*20,
		Route:    planRoute(origin, destination),
	}
	log.WithFields(log.Fields{"trip_id": tripID, "points": len(state.Route.Points)}).Info("Route planned")

	if err := simulateBus(conn, state, interval); err != nil {
		log.WithError(err).Fatal("Simulation aborted")
	}
	log.WithField("trip_id", tripID).Info("Arrived")

	if v, _ := strconv.ParseBool(os.Getenv("SIM_END_TRIP")); v {
		if err := c.endTrip(tripID); err != nil {
			log.WithError(err).Error("Failed to end trip")
			return
		}
		log.WithField("trip_id", tripID).Info("Ended trip")
	}
}
