package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/metrics"
	"roomchat/internal/middleware"
	"roomchat/internal/room"
	"roomchat/internal/user"
)

// body is the union of every POST/DELETE payload. Individual handlers pick
// the fields they need and validate them.
type body struct {
	Username   string   `json:"username"`
	Token      string   `json:"token"`
	Force      bool     `json:"force"`
	RoomID     string   `json:"roomId"`
	PrevRoomID string   `json:"prevRoomId"`
	NextRoomID string   `json:"nextRoomId"`
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	Members    []string `json:"members"`
	Content    string   `json:"content"`
	MessageID  string   `json:"messageId"`
}

func decodeBody(r *http.Request) (*body, error) {
	b := &body{}
	if err := json.NewDecoder(r.Body).Decode(b); err != nil {
		return nil, apperr.Validation("malformed request body")
	}
	return b, nil
}

func requirePrincipal(r *http.Request) (auth.Principal, error) {
	p := middleware.PrincipalFrom(r.Context())
	if !p.Known() {
		return p, apperr.Unauthorized("authentication required")
	}
	return p, nil
}

func requireAdmin(r *http.Request) (auth.Principal, error) {
	p, err := requirePrincipal(r)
	if err != nil {
		return p, err
	}
	if !p.CanAdminister() {
		return p, apperr.Forbidden("admin privileges required")
	}
	return p, nil
}

// --- rooms ---

func (s *Server) getRooms(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.PrincipalFrom(r.Context()).Username
	rooms, err := s.rooms.List(r.Context(), viewer)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// visibleRoom loads a room and hides its existence from non-members:
// an invisible room and a missing room answer identically.
func (s *Server) visibleRoom(r *http.Request, roomID string) (*room.Room, error) {
	if roomID == "" {
		return nil, apperr.Validation("roomId is required")
	}
	rm, err := s.rooms.Get(r.Context(), roomID)
	if err != nil {
		return nil, err
	}
	viewer := middleware.PrincipalFrom(r.Context()).Username
	if !rm.VisibleTo(viewer) {
		return nil, apperr.NotFound("room %q not found", roomID)
	}
	return rm, nil
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.visibleRoom(r, r.URL.Query().Get("roomId"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": rm})
}

func (s *Server) getRoomUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := requirePrincipal(r); err != nil {
		writeErr(w, r, err)
		return
	}
	rm, err := s.visibleRoom(r, r.URL.Query().Get("roomId"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	users, err := s.rooms.ActiveUsers(r.Context(), rm.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roomId": rm.ID, "users": users})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	p, err := requirePrincipal(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	rm, err := s.rooms.Create(r.Context(), p, room.Type(b.Type), b.Name, b.Members)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.RoomsUpdated(r.Context())
	writeJSON(w, http.StatusCreated, map[string]any{"room": rm})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	p, err := requirePrincipal(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		writeErr(w, r, apperr.Validation("roomId is required"))
		return
	}
	remaining, err := s.rooms.DeleteOrLeave(r.Context(), p, roomID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.RoomsUpdated(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"deleted": remaining == nil, "room": remaining})
}

// --- presence actions ---
// joinRoom/leaveRoom/switchRoom only need a known username, not a token:
// presence is a liveness signal, not a privilege.

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if b.Username == "" || b.RoomID == "" {
		writeErr(w, r, apperr.Validation("username and roomId are required"))
		return
	}
	count, err := s.rooms.Join(r.Context(), b.RoomID, b.Username)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.RoomsUpdated(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"roomId": b.RoomID, "userCount": count})
}

func (s *Server) leaveRoom(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if b.Username == "" || b.RoomID == "" {
		writeErr(w, r, apperr.Validation("username and roomId are required"))
		return
	}
	count, err := s.rooms.Leave(r.Context(), b.RoomID, b.Username)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.RoomsUpdated(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"roomId": b.RoomID, "userCount": count})
}

func (s *Server) switchRoom(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if b.Username == "" || b.NextRoomID == "" {
		writeErr(w, r, apperr.Validation("username and nextRoomId are required"))
		return
	}
	if err := s.rooms.Switch(r.Context(), b.Username, b.PrevRoomID, b.NextRoomID); err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.RoomsUpdated(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"roomId": b.NextRoomID})
}

// --- messages ---

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	rm, err := s.visibleRoom(r, r.URL.Query().Get("roomId"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.messages.List(r.Context(), rm.ID, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roomId": rm.ID, "messages": msgs})
}

func (s *Server) getBulkMessages(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("roomIds")
	if raw == "" {
		writeErr(w, r, apperr.Validation("roomIds is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	// Invisible or missing rooms are silently dropped from the result
	// rather than failing the whole batch.
	ids := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if _, err := s.visibleRoom(r, strings.TrimSpace(id)); err == nil {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	bulk, err := s.messages.ListBulk(r.Context(), ids, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": bulk})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	p, err := requirePrincipal(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	sender := user.Normalize(b.Username)
	// The body identity must match the authenticated one; the only
	// exception is the admin posting as the fixed bot identity.
	if sender != p.Username && !(p.CanAdminister() && sender == s.cfg.BotUser) {
		writeErr(w, r, apperr.Forbidden("username does not match authenticated identity"))
		return
	}
	rm, err := s.visibleRoom(r, b.RoomID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	msg, err := s.messages.Send(r.Context(), rm.ID, sender, b.Content)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	metrics.MessagesTotal.Inc()
	s.fanout.NewMessage(r.Context(), rm, msg)
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	p, err := requireAdmin(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	roomID := r.URL.Query().Get("roomId")
	messageID := r.URL.Query().Get("messageId")
	if roomID == "" || messageID == "" {
		writeErr(w, r, apperr.Validation("roomId and messageId are required"))
		return
	}
	rm, err := s.rooms.Get(r.Context(), roomID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.messages.Delete(r.Context(), p, roomID, messageID); err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.MessageDeleted(r.Context(), rm, messageID)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// --- users & tokens ---

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := s.users.Create(r.Context(), b.Username)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	t, err := s.tokens.Issue(r.Context(), u.Username, false)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u, "token": t})
}

func (s *Server) generateToken(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if b.Username == "" {
		writeErr(w, r, apperr.Validation("username is required"))
		return
	}
	// Forced re-issue evicts the current token without grace, so it is
	// reserved for the admin.
	if b.Force {
		if _, err := requireAdmin(r); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	if _, err := s.users.Get(r.Context(), user.Normalize(b.Username)); err != nil {
		writeErr(w, r, err)
		return
	}
	t, err := s.tokens.Issue(r.Context(), b.Username, b.Force)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": t})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if b.Username == "" || b.Token == "" {
		writeErr(w, r, apperr.Validation("username and token are required"))
		return
	}
	t, err := s.tokens.Refresh(r.Context(), b.Username, b.Token)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": t})
}

func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	presented := r.URL.Query().Get("token")
	if username == "" || presented == "" {
		writeErr(w, r, apperr.Validation("username and token are required"))
		return
	}
	st, err := s.tokens.Validate(r.Context(), username, presented, true)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- maintenance ---

func (s *Server) clearAllMessages(w http.ResponseWriter, r *http.Request) {
	p, err := requireAdmin(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := s.messages.ClearAll(r.Context(), p)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clearedRooms": n})
}

func (s *Server) resetUserCounts(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := s.rooms.ResetUserCounts(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.fanout.RoomsUpdated(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"rooms": n})
}
