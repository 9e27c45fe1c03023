package stub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/httpx/response"
	"github.com/vadim/prodesk/internal/storage"
)

// maxUploadSize mirrors the client-side attachment ceiling.
const maxUploadSize = 5 << 20

type ctxKey int

const userKey ctxKey = 0

// Server is the conformance backend: the REST surface plus the realtime
// channel the client packages are built against. It exists so the whole
// client stack can be exercised end to end without the production
// marketplace.
type Server struct {
	store    RoomStore
	files    storage.Store
	hub      *hub
	tokens   map[string]entity.Participant
	log      *slog.Logger
	upgrader websocket.Upgrader
	localDir string
}

// NewServer wires the stub. localDir, when non-empty, is served under
// /uploads so LocalStorage URLs resolve.
func NewServer(store RoomStore, files storage.Store, tokens map[string]entity.Participant, localDir string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    store,
		files:    files,
		hub:      newServerHub(),
		tokens:   tokens,
		log:      log,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		localDir: localDir,
	}
}

// ParseTokens decodes the token:userId:name credential list from config.
func ParseTokens(raw string) map[string]entity.Participant {
	out := make(map[string]entity.Participant)
	for _, item := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(item), ":", 3)
		if len(parts) != 3 {
			continue
		}
		out[parts[0]] = entity.Participant{ID: parts[1], Name: parts[2]}
	}
	return out
}

// Routes returns the HTTP handler for the stub server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/chat", s.listConversations)
		r.Post("/chat", s.createConversation)
		r.Get("/chat/{roomID}", s.getConversation)
		r.Post("/chat/attachment", s.uploadAttachment)
		r.Get("/ws", s.serveWS)
	})

	// Event injection for tests and local development, deliberately outside
	// the authenticated surface.
	r.Post("/debug/order", s.pushOrderNew)
	r.Post("/debug/order/status", s.pushOrderStatus)

	if s.localDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/",
			http.FileServer(http.Dir(s.localDir))))
	}

	return r
}

// authenticate resolves the bearer token to a participant.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		user, ok := s.tokens[token]
		if header == "" || token == header || !ok {
			response.Unauthorized(w, "invalid or missing credential")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func currentUser(r *http.Request) entity.Participant {
	user, _ := r.Context().Value(userKey).(entity.Participant)
	return user
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	rooms, err := s.store.ListForUser(r.Context(), user.ID)
	if err != nil {
		s.log.Error("listing rooms", "error", err)
		response.InternalError(w, "listing conversations")
		return
	}
	if rooms == nil {
		rooms = []entity.Conversation{}
	}
	response.OK(w, rooms)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	roomID := chi.URLParam(r, "roomID")

	room, err := s.store.Get(r.Context(), roomID)
	if err != nil {
		response.NotFound(w, "conversation not found")
		return
	}
	if !room.HasParticipant(user.ID) {
		response.Forbidden(w, "not a participant")
		return
	}
	response.OK(w, room)
}

type createConversationRequest struct {
	TargetUserID string `json:"target_user_id"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetUserID == "" {
		response.BadRequest(w, "target_user_id is required")
		return
	}

	target, ok := s.participantByID(req.TargetUserID)
	if !ok {
		response.NotFound(w, "target user not found")
		return
	}

	room, created, err := s.store.CreateOrGet(r.Context(), user, target)
	if err != nil {
		s.log.Error("creating room", "error", err)
		response.InternalError(w, "creating conversation")
		return
	}
	if created {
		response.Created(w, room)
		return
	}
	response.OK(w, room)
}

func (s *Server) participantByID(id string) (entity.Participant, bool) {
	for _, p := range s.tokens {
		if p.ID == id {
			return p, true
		}
	}
	return entity.Participant{}, false
}

func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1024)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, "attachment exceeds size limit")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "file field is required")
		return
	}
	defer file.Close()

	out, err := s.files.Save(r.Context(), storage.SaveInput{
		Reader:      file,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Filename:    header.Filename,
	})
	if err != nil {
		s.log.Error("saving attachment", "error", err)
		response.InternalError(w, "saving attachment")
		return
	}
	response.OK(w, entity.Attachment{URL: out.URL, Kind: out.Kind})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(user)
	s.hub.register(sess)
	go s.writeLoop(conn, sess)
	s.readLoop(r.Context(), conn, sess)
}

func (s *Server) writeLoop(conn *websocket.Conn, sess *session) {
	defer conn.Close()
	for env := range sess.send {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	defer s.hub.unregister(sess)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env entity.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		switch env.Event {
		case entity.EventJoinChat:
			s.handleJoin(ctx, sess, env.Data)
		case entity.EventSendMessage:
			s.handleSend(ctx, sess, env.Data)
		}
	}
}

func (s *Server) handleJoin(ctx context.Context, sess *session, data json.RawMessage) {
	var req entity.JoinChatData
	if json.Unmarshal(data, &req) != nil || req.RoomID == "" {
		s.pushError(sess, "bad_request", "room_id is required")
		return
	}

	room, err := s.store.Get(ctx, req.RoomID)
	if err != nil {
		s.pushError(sess, "not_found", "room not found")
		return
	}
	if !room.HasParticipant(sess.user.ID) {
		s.pushError(sess, "forbidden", "not a participant")
		return
	}
	sess.join(req.RoomID)
}

func (s *Server) handleSend(ctx context.Context, sess *session, data json.RawMessage) {
	var req entity.SendMessageData
	if json.Unmarshal(data, &req) != nil || req.RoomID == "" {
		s.pushError(sess, "bad_request", "room_id is required")
		return
	}
	if !sess.inRoom(req.RoomID) {
		s.pushError(sess, "forbidden", "join the room before sending")
		return
	}

	msg := entity.Message{
		ID:         uuid.New().String(),
		Content:    req.Content,
		Attachment: req.Attachment,
		Sender: entity.Sender{
			ID:        sess.user.ID,
			Name:      sess.user.Name,
			AvatarURL: sess.user.AvatarURL,
			Embedded:  true,
		},
		SentAt: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, req.RoomID, msg); err != nil {
		s.pushError(sess, "internal", "storing message")
		return
	}

	env, err := entity.NewEnvelope(entity.EventReceiveMessage, entity.ReceiveMessageData{
		RoomID:  req.RoomID,
		Message: msg,
	})
	if err != nil {
		return
	}
	// Fan out to everyone in the room, the sender included. The sender's
	// client relies on the echo instead of appending locally.
	s.hub.broadcastRoom(req.RoomID, env)
}

func (s *Server) pushError(sess *session, code, message string) {
	env, err := entity.NewEnvelope(entity.EventError, entity.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case sess.send <- env:
	default:
	}
}

type orderPushRequest struct {
	UserID  string             `json:"user_id"`
	OrderID string             `json:"order_id"`
	Status  entity.OrderStatus `json:"status,omitempty"`
	Title   string             `json:"title,omitempty"`
}

// pushOrderNew injects an order_new event for a user's live connections.
func (s *Server) pushOrderNew(w http.ResponseWriter, r *http.Request) {
	var req orderPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		response.BadRequest(w, "user_id is required")
		return
	}
	env, err := entity.NewEnvelope(entity.EventOrderNew, entity.OrderEventData{
		OrderID: req.OrderID,
		Title:   req.Title,
	})
	if err != nil {
		response.InternalError(w, "encoding event")
		return
	}
	s.hub.deliverTo(req.UserID, env)
	response.NoContent(w)
}

// pushOrderStatus injects an order_status_update event.
func (s *Server) pushOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		response.BadRequest(w, "user_id is required")
		return
	}
	env, err := entity.NewEnvelope(entity.EventOrderStatusUpdate, entity.OrderEventData{
		OrderID: req.OrderID,
		Status:  req.Status,
		Title:   req.Title,
	})
	if err != nil {
		response.InternalError(w, "encoding event")
		return
	}
	s.hub.deliverTo(req.UserID, env)
	response.NoContent(w)
}
