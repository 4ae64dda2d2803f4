package server

import (
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"subbrawl/game"
)

// makeAPIKey returns a 40-hex-character bearer token.
func makeAPIKey() string {
	a := strings.ReplaceAll(uuid.NewString(), "-", "")
	b := strings.ReplaceAll(uuid.NewString(), "-", "")
	return a + b[:8]
}

func hashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(h), err
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// userFromRequest resolves the caller from a Bearer token or an api_key
// query parameter. Caller holds the world lock (read or write).
func (s *Server) userFromRequest(r *http.Request) (*game.User, error) {
	key := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		key = strings.TrimPrefix(auth, "Bearer ")
	} else {
		key = r.URL.Query().Get("api_key")
	}
	if key == "" {
		return nil, unauthorized("missing api key")
	}
	uid, ok := s.gs.ApiKeys[key]
	if !ok {
		return nil, unauthorized("invalid api key")
	}
	u := s.gs.Users[uid]
	if u == nil {
		return nil, unauthorized("invalid api key")
	}
	return u, nil
}

// credentialLimiter returns the per-IP limiter guarding signup and login.
func (s *Server) credentialLimiter(remoteAddr string) *rate.Limiter {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim := s.limiters[ip]
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(1), 5)
		s.limiters[ip] = lim
	}
	return lim
}

// createUser registers an account in the store and in memory, returning
// the user and a fresh api key. Caller holds the world write lock.
func (s *Server) createUser(username, password string, isAdmin bool) (*game.User, string, error) {
	for _, u := range s.gs.Users {
		if u.Username == username {
			return nil, "", badRequest("username taken")
		}
	}
	pwHash, err := hashPassword(password)
	if err != nil {
		return nil, "", err
	}
	id, err := s.store.CreateUser(username, pwHash, isAdmin)
	if err != nil {
		return nil, "", err
	}
	u := &game.User{ID: id, Username: username, PwHash: pwHash, IsAdmin: isAdmin}
	s.gs.Users[id] = u
	if id >= s.gs.NextUserID {
		s.gs.NextUserID = id + 1
	}
	key := makeAPIKey()
	if err := s.store.CreateAPIKey(key, id); err != nil {
		return nil, "", err
	}
	s.gs.ApiKeys[key] = id
	return u, key, nil
}

// ensureAdmin bootstraps the admin account from SB_ADMIN_USER and
// SB_ADMIN_PASS when the environment provides them.
func (s *Server) ensureAdmin() error {
	username := os.Getenv("SB_ADMIN_USER")
	password := os.Getenv("SB_ADMIN_PASS")
	if username == "" || password == "" {
		return nil
	}
	for _, u := range s.gs.Users {
		if u.Username == username {
			if !u.IsAdmin {
				u.IsAdmin = true
				log.Printf("[AUTH] Promoted %s to admin", username)
			}
			return nil
		}
	}
	if _, _, err := s.createUser(username, password, true); err != nil {
		return err
	}
	log.Printf("[AUTH] Bootstrapped admin account %s", username)
	return nil
}
