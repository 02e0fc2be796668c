package fakebackend

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "id must be numeric")
		return 0, false
	}
	return id, true
}

// ============================================================================
// Auth
// ============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.RLock()
	var found *userRecord
	for _, u := range s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(req.Email)) {
			found = u
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		writeUnauthorized(w, "Invalid credentials")
		return
	}
	ok, err := verifyPassword(req.Password, found.passwordHash)
	if err != nil || !ok {
		writeUnauthorized(w, "Invalid credentials")
		return
	}

	token, err := s.issueToken(found)
	if err != nil {
		s.logger.Error("issuing token failed", "error", err)
		writeInternalError(w, "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"access_token": token})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	u, ok := s.users[userIDFrom(r.Context())]
	s.mu.RUnlock()
	if !ok {
		writeUnauthorized(w, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, u.User)
}

// ============================================================================
// Users
// ============================================================================

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req rpc.CreateUserInput
	if !decodeBody(w, r, &req) {
		return
	}

	var problems []string
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name should not be empty")
	}
	if !strings.Contains(req.Email, "@") {
		problems = append(problems, "email must be an email")
	}
	if len(req.Password) < 6 { //nolint:mnd // backend minimum password length
		problems = append(problems, "password must be longer than or equal to 6 characters")
	}
	if len(problems) > 0 {
		writeBadRequest(w, problems...)
		return
	}

	u, err := s.createUser(strings.TrimSpace(req.Name), strings.TrimSpace(req.Email), req.Password)
	switch {
	case errors.Is(err, errEmailTaken):
		writeError(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		writeInternalError(w, "could not create user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	users := make([]rpc.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.User)
	}
	s.mu.RUnlock()

	slices.SortFunc(users, func(a, b rpc.User) int { return int(a.ID - b.ID) })
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleLookupUser(w http.ResponseWriter, r *http.Request) {
	if !s.lookup {
		writeNotFound(w, "Cannot GET /users/lookup")
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	out := make([]rpc.User, 0, 1)
	s.mu.RLock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			out = append(out, u.User)
			break
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	u, found := s.users[id]
	s.mu.RUnlock()
	if !found {
		writeNotFound(w, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, u.User)
}

// ============================================================================
// Locks
// ============================================================================

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.visibleLocks(userIDFrom(r.Context())))
}

func (s *Server) handleCreateLock(w http.ResponseWriter, r *http.Request) {
	var req rpc.CreateLockInput
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Location) == "" {
		writeBadRequest(w, "name and localization are required")
		return
	}
	if req.Status == "" {
		req.Status = rpc.StatusLocked
	}
	if !req.Status.Valid() {
		writeBadRequest(w, "status must be locked or unlocked")
		return
	}

	l := s.AddLock(userIDFrom(r.Context()), req.Name, req.Location, req.Status)
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, found := s.Lock(id)
	if !found {
		writeNotFound(w, "Door lock not found")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleUpdateLock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status rpc.LockStatus `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeBadRequest(w, "status must be locked or unlocked")
		return
	}

	l, found := s.SetLockStatus(id, req.Status)
	if !found {
		writeNotFound(w, "Door lock not found")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ============================================================================
// Access grants
// ============================================================================

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	lockID, err := strconv.ParseInt(r.URL.Query().Get("doorLockId"), 10, 64)
	if err != nil {
		writeBadRequest(w, "doorLockId must be numeric")
		return
	}
	writeJSON(w, http.StatusOK, s.Grants(lockID))
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req rpc.CreateGrantInput
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = rpc.RoleGuest
	}
	if req.Status == "" {
		req.Status = rpc.GrantActive
	}

	g, err := s.createGrant(req, userIDFrom(r.Context()))
	switch {
	case errors.Is(err, errNoSuchUser):
		writeBadRequest(w, "userId does not exist")
		return
	case errors.Is(err, errUnknownLock):
		writeBadRequest(w, "doorLockId does not exist")
		return
	case err != nil:
		writeInternalError(w, "could not create grant")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	g, found := s.grants[id]
	switch {
	case !found:
		s.mu.Unlock()
		writeNotFound(w, "Access grant not found")
		return
	case g.Role == rpc.RoleOwner:
		s.mu.Unlock()
		writeBadRequest(w, "owner access cannot be revoked")
		return
	}
	delete(s.grants, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// ============================================================================
// WebSocket
// ============================================================================

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		writeUnauthorized(w, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.hub.serve(conn, userID)
}

// eventFrame builds an event frame for kind with payload.
func eventFrame(kind string, payload any) (channel.Frame, error) {
	f, err := channel.NewFrame(channel.FrameEvent, payload)
	if err != nil {
		return channel.Frame{}, err
	}
	f.EventType = kind
	return f, nil
}
