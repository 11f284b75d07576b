package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

type createRequest struct {
	Emails           []string `json:"emails"`
	PublicKeyArmored string   `json:"publicKeyArmored"`
}

// restCreate implements POST /api/v1/key.
func (s *Server) restCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, httperr.BadRequest("invalid JSON body"))
		return
	}
	if req.PublicKeyArmored == "" {
		s.writeError(w, r, httperr.BadRequest("missing publicKeyArmored parameter"))
		return
	}
	for _, email := range req.Emails {
		if !pgpkey.IsEmail(pgpkey.NormalizeEmail(email)) {
			s.writeError(w, r, httperr.BadRequest("invalid email address"))
			return
		}
	}
	if err := s.svc.Put(req.Emails, req.PublicKeyArmored, origin(r), locale(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("Upload successful. Check your inbox to verify your email address."))
}

// restQuery implements GET /api/v1/key, dispatching on the op parameter.
func (s *Server) restQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch q.Get("op") {
	case "verify":
		s.restVerify(w, r)
	case "verifyRemove":
		s.restVerifyRemove(w, r)
	case "":
		s.restGet(w, r)
	default:
		s.writeError(w, r, httperr.NotImplemented("unsupported operation"))
	}
}

func (s *Server) restVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyID, nonce := normalizeHex(q.Get("keyId")), q.Get("nonce")
	if !isKeyID(keyID) || !isNonce(nonce) {
		s.writeError(w, r, httperr.BadRequest("invalid keyId or nonce parameter"))
		return
	}
	email, err := s.svc.Verify(keyID, nonce)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	shareLink := fmt.Sprintf("%s/pks/lookup?op=get&search=%s", origin(r).BaseURL(), url.QueryEscape(email))
	s.render(w, r, "verify.html", map[string]string{
		"Email":     email,
		"ShareLink": shareLink,
	})
}

func (s *Server) restVerifyRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyID, nonce := normalizeHex(q.Get("keyId")), q.Get("nonce")
	if !isKeyID(keyID) || !isNonce(nonce) {
		s.writeError(w, r, httperr.BadRequest("invalid keyId or nonce parameter"))
		return
	}
	uid, err := s.svc.VerifyRemove(keyID, nonce)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.render(w, r, "removed.html", map[string]string{"Email": uid.Email})
}

func (s *Server) restGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyID := q.Get("keyId")
	fingerprint := q.Get("fingerprint")
	email := q.Get("email")

	if keyID != "" {
		keyID = normalizeHex(keyID)
		if !isKeyID(keyID) {
			s.writeError(w, r, httperr.BadRequest("invalid keyId parameter"))
			return
		}
	}
	if fingerprint != "" {
		fingerprint = normalizeHex(fingerprint)
		if !isFingerprint(fingerprint) {
			s.writeError(w, r, httperr.BadRequest("invalid fingerprint parameter"))
			return
		}
	}
	if email != "" {
		email = pgpkey.NormalizeEmail(email)
		if !pgpkey.IsEmail(email) {
			s.writeError(w, r, httperr.BadRequest("invalid email parameter"))
			return
		}
	}
	if keyID == "" && fingerprint == "" && email == "" {
		s.writeError(w, r, httperr.BadRequest("missing keyId, fingerprint, or email parameter"))
		return
	}

	key, err := s.svc.Get(keyID, fingerprint, email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(key)
}

// restRemove implements DELETE /api/v1/key.
func (s *Server) restRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyID := q.Get("keyId")
	email := q.Get("email")

	if keyID != "" {
		keyID = normalizeHex(keyID)
		if !isKeyID(keyID) {
			s.writeError(w, r, httperr.BadRequest("invalid keyId parameter"))
			return
		}
	}
	if email != "" {
		email = pgpkey.NormalizeEmail(email)
		if !pgpkey.IsEmail(email) {
			s.writeError(w, r, httperr.BadRequest("invalid email parameter"))
			return
		}
	}
	if keyID == "" && email == "" {
		s.writeError(w, r, httperr.BadRequest("missing keyId or email parameter"))
		return
	}

	if err := s.svc.RequestRemove(keyID, email, origin(r), locale(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Check your inbox to verify the removal of your key."))
}
