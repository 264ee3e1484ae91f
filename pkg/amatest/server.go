// Package amatest provides an in-memory stand-in for the remote question service: the REST
// routes and the room scoped websocket channel, for use in tests.
package amatest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/wire"
)

type room struct {
	id       string
	theme    string
	messages map[string]*ama.Message
	order    []string
}

type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is a fake remote service. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	rooms           map[string]*room
	subscribers     map[string]map[*subscriber]struct{}
	requests        map[string]int
	failStatus      int
	rejectSubscribe bool
	snapshotBody    []byte
	snapshotGate    chan struct{}
	subscribed      chan string
}

// New starts a fake service on a loopback port.
func New() *Server {
	s := &Server{
		rooms:       make(map[string]*room),
		subscribers: make(map[string]map[*subscriber]struct{}),
		requests:    make(map[string]int),
		subscribed:  make(chan string, 64),
	}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Debug("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/subscribe/{room_id}").HandlerFunc(s.handleSubscribe)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.countAndFail)
	api.Methods(http.MethodPost).Path("/rooms").HandlerFunc(s.handleCreateRoom)
	api.Methods(http.MethodGet).Path("/rooms").HandlerFunc(s.handleGetRooms)
	api.Methods(http.MethodGet).Path("/rooms/{room_id}").HandlerFunc(s.handleGetRoom)
	api.Methods(http.MethodPost).Path("/rooms/{room_id}/messages").HandlerFunc(s.handleCreateMessage)
	api.Methods(http.MethodGet).Path("/rooms/{room_id}/messages").HandlerFunc(s.handleGetMessages)
	api.Methods(http.MethodPatch).Path("/rooms/{room_id}/messages/{message_id}/react").HandlerFunc(s.handleReact(1))
	api.Methods(http.MethodDelete).Path("/rooms/{room_id}/messages/{message_id}/react").HandlerFunc(s.handleReact(-1))
	api.Methods(http.MethodPatch).Path("/rooms/{room_id}/messages/{message_id}/answer").HandlerFunc(s.handleAnswer)

	s.Server = httptest.NewServer(r)
	return s
}

// APIURL is the REST base address, the value a client is configured with.
func (s *Server) APIURL() string {
	return s.URL + "/api"
}

// Close drops every live connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for _, subs := range s.subscribers {
		for sub := range subs {
			_ = sub.conn.Close()
		}
	}
	s.mu.Unlock()
	s.Server.CloseClientConnections()
	s.Server.Close()
}

// AddRoom creates a room with a fresh id.
func (s *Server) AddRoom(theme string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.rooms[id] = &room{id: id, theme: theme, messages: make(map[string]*ama.Message)}
	return id
}

// AddMessage stores a message without notifying subscribers, as if it existed before anyone
// was watching.
func (s *Server) AddMessage(m ama.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[m.RoomID]
	if !ok {
		rm = &room{id: m.RoomID, messages: make(map[string]*ama.Message)}
		s.rooms[m.RoomID] = rm
	}
	if _, exists := rm.messages[m.ID]; !exists {
		rm.order = append(rm.order, m.ID)
	}
	cp := m
	rm.messages[m.ID] = &cp
}

// Messages returns the stored messages of a room in insertion order.
func (s *Server) Messages(roomID string) []ama.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked(roomID)
}

func (s *Server) messagesLocked(roomID string) []ama.Message {
	rm, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ama.Message, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, *rm.messages[id])
	}
	return out
}

// Requests returns how many REST requests matched the given method and route template, such as
// "POST /api/rooms/{room_id}/messages".
func (s *Server) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

// TotalRequests counts every REST request served.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

// FailRequests makes every REST route answer with status. Zero restores normal behaviour.
func (s *Server) FailRequests(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// SetSnapshotBody replaces the body of every messages listing. Nil restores normal behaviour.
func (s *Server) SetSnapshotBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotBody = body
}

// HoldSnapshots blocks messages listings until the returned release func is called.
func (s *Server) HoldSnapshots() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.snapshotGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.snapshotGate == gate {
				s.snapshotGate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// RejectSubscriptions makes the live route refuse upgrades.
func (s *Server) RejectSubscriptions(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSubscribe = reject
}

// Subscribed yields the room id of every accepted live connection.
func (s *Server) Subscribed() <-chan string {
	return s.subscribed
}

// Subscribers counts open live connections for a room.
func (s *Server) Subscribers(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[roomID])
}

// DropSubscribers closes every live connection of a room from the server side.
func (s *Server) DropSubscribers(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers[roomID] {
		_ = sub.conn.Close()
	}
}

// Broadcast sends an event to every subscriber of a room.
func (s *Server) Broadcast(roomID string, ev ama.Event) {
	data, err := wire.EncodeFrame(ev)
	if err != nil {
		panic(err)
	}
	s.BroadcastRaw(roomID, data)
}

// BroadcastRaw sends an arbitrary text frame to every subscriber of a room.
func (s *Server) BroadcastRaw(roomID string, data []byte) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers[roomID]))
	for sub := range s.subscribers[roomID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			slog.Debug("failed to send frame to subscriber", "err", err)
			_ = sub.conn.Close()
		}
	}
}

func (s *Server) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		tpl := request.URL.Path
		if route := mux.CurrentRoute(request); route != nil {
			if t, err := route.GetPathTemplate(); err == nil {
				tpl = t
			}
		}
		s.mu.Lock()
		s.requests[request.Method+" "+tpl]++
		status := s.failStatus
		s.mu.Unlock()
		if status != 0 {
			http.Error(writer, "something went wrong", status)
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func sendJSON(writer http.ResponseWriter, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(data)
}

func (s *Server) readRoom(writer http.ResponseWriter, request *http.Request) (*room, bool) {
	id := mux.Vars(request)["room_id"]
	rm, ok := s.rooms[id]
	if !ok {
		http.Error(writer, "room not found", http.StatusBadRequest)
		return nil, false
	}
	return rm, true
}

func (s *Server) handleSubscribe(writer http.ResponseWriter, request *http.Request) {
	roomID := mux.Vars(request)["room_id"]
	s.mu.Lock()
	_, known := s.rooms[roomID]
	reject := s.rejectSubscribe
	s.mu.Unlock()
	if !known {
		http.Error(writer, "room not found", http.StatusBadRequest)
		return
	}
	if reject {
		http.Error(writer, "subscriptions disabled", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{conn: conn}
	s.mu.Lock()
	if _, ok := s.subscribers[roomID]; !ok {
		s.subscribers[roomID] = make(map[*subscriber]struct{})
	}
	s.subscribers[roomID][sub] = struct{}{}
	s.mu.Unlock()

	select {
	case s.subscribed <- roomID:
	default:
	}

	// Clients never send data frames; reading keeps control frames flowing and notices closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.subscribers[roomID], sub)
	s.mu.Unlock()
}

func (s *Server) handleCreateRoom(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid json", http.StatusBadRequest)
		return
	}
	sendJSON(writer, map[string]string{"id": s.AddRoom(body.Theme)})
}

type roomRecord struct {
	ID    string `json:"ID"`
	Theme string `json:"Theme"`
}

func (s *Server) handleGetRooms(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	out := make([]roomRecord, 0, len(s.rooms))
	for _, rm := range s.rooms {
		out = append(out, roomRecord{ID: rm.id, Theme: rm.theme})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	sendJSON(writer, out)
}

func (s *Server) handleGetRoom(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	rm, ok := s.readRoom(writer, request)
	var rec roomRecord
	if ok {
		rec = roomRecord{ID: rm.id, Theme: rm.theme}
	}
	s.mu.Unlock()
	if ok {
		sendJSON(writer, rec)
	}
}

func (s *Server) handleGetMessages(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	gate := s.snapshotGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-request.Context().Done():
			return
		}
	}

	s.mu.Lock()
	rm, ok := s.readRoom(writer, request)
	if !ok {
		s.mu.Unlock()
		return
	}
	override := s.snapshotBody
	msgs := s.messagesLocked(rm.id)
	s.mu.Unlock()

	if override != nil {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write(override)
		return
	}
	data, err := wire.EncodeSnapshot(msgs)
	if err != nil {
		http.Error(writer, "something went wrong", http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(data)
}

func (s *Server) handleCreateMessage(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid json", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	rm, ok := s.readRoom(writer, request)
	if !ok {
		s.mu.Unlock()
		return
	}
	m := ama.Message{ID: uuid.NewString(), RoomID: rm.id, Text: body.Message}
	rm.messages[m.ID] = &m
	rm.order = append(rm.order, m.ID)
	s.mu.Unlock()

	sendJSON(writer, map[string]string{"id": m.ID})
	s.Broadcast(m.RoomID, ama.MessageCreated{Message: m})
}

func (s *Server) handleReact(delta int64) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		s.mu.Lock()
		rm, ok := s.readRoom(writer, request)
		if !ok {
			s.mu.Unlock()
			return
		}
		m, ok := rm.messages[mux.Vars(request)["message_id"]]
		if !ok {
			s.mu.Unlock()
			http.Error(writer, "message not found", http.StatusBadRequest)
			return
		}
		if m.ReactionCount+delta >= 0 {
			m.ReactionCount += delta
		}
		id, count := m.ID, m.ReactionCount
		s.mu.Unlock()

		sendJSON(writer, map[string]int64{"count": count})
		s.Broadcast(rm.id, ama.ReactionChanged{ID: id, Count: count})
	}
}

func (s *Server) handleAnswer(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	rm, ok := s.readRoom(writer, request)
	if !ok {
		s.mu.Unlock()
		return
	}
	m, ok := rm.messages[mux.Vars(request)["message_id"]]
	if !ok {
		s.mu.Unlock()
		http.Error(writer, "message not found", http.StatusBadRequest)
		return
	}
	m.Answered = true
	id := m.ID
	s.mu.Unlock()

	writer.WriteHeader(http.StatusOK)
	s.Broadcast(rm.id, ama.MessageAnswered{ID: id})
}

// String identifies the server in test failure output.
func (s *Server) String() string {
	return fmt.Sprintf("amatest.Server(%s)", s.URL)
}
