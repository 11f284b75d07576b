package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/pgpkey"
)

// hkpAdd implements POST /pks/add: accepts a keytext form field and
// triggers ingestion. The traditional HKP success reply is a plain 200.
func (s *Server) hkpAdd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, httperr.BadRequest("invalid form body"))
		return
	}
	keytext := r.PostFormValue("keytext")
	if keytext == "" {
		s.writeError(w, r, httperr.BadRequest("missing keytext parameter"))
		return
	}
	if err := s.svc.Put(nil, keytext, origin(r), locale(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Upload successful. Check your inbox to verify your email address."))
}

// hkpLookup implements GET /pks/lookup with op=get|index|vindex.
func (s *Server) hkpLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	op := q.Get("op")

	keyID, fingerprint, email, err := classifySearch(q.Get("search"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch op {
	case "get":
		key, err := s.svc.Get(keyID, fingerprint, email)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if q.Get("options") == "mr" {
			w.Header().Set("Content-Type", "application/pgp-keys; charset=utf-8")
			w.Header().Set("Content-Disposition", "attachment; filename=openpgp-key.asc")
			w.Write([]byte(key.PublicKeyArmored))
			return
		}
		s.render(w, r, "key.html", key)
	case "index", "vindex":
		key, err := s.svc.Get(keyID, fingerprint, email)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(hkpIndex(key)))
	default:
		s.writeError(w, r, httperr.NotImplemented(fmt.Sprintf("unsupported operation %q", op)))
	}
}

// classifySearch maps the search parameter onto a key ID, fingerprint,
// or email address. 0x-prefixed 16 and 40 character hex strings select
// the hex paths; <...> wrapping is tolerated around emails.
func classifySearch(search string) (keyID, fingerprint, email string, err error) {
	search = strings.Join(strings.Fields(search), "")
	if search == "" {
		return "", "", "", httperr.BadRequest("missing search parameter")
	}

	if strings.HasPrefix(search, "0x") || strings.HasPrefix(search, "0X") {
		hex := normalizeHex(search)
		switch {
		case isKeyID(hex):
			return hex, "", "", nil
		case isFingerprint(hex):
			return "", hex, "", nil
		}
		return "", "", "", httperr.BadRequest("invalid key ID or fingerprint in search parameter")
	}

	if strings.HasPrefix(search, "<") && strings.HasSuffix(search, ">") {
		search = search[1 : len(search)-1]
	}
	if pgpkey.IsEmail(search) {
		return "", "", pgpkey.NormalizeEmail(search), nil
	}
	return "", "", "", httperr.BadRequest("invalid search parameter")
}

// hkpIndex renders the machine-readable listing: one pub line for the
// primary key and one uid line per verified user ID.
func hkpIndex(key *pgpkey.Key) string {
	var b strings.Builder
	b.WriteString("info:1:1\n")
	fmt.Fprintf(&b, "pub:%s:%s:%d:%d::\n",
		strings.ToUpper(key.Fingerprint),
		pgpkey.HKPAlgorithmID(key.Algorithm),
		key.KeySize,
		key.Created.Unix(),
	)
	for _, uid := range key.UserIDs {
		if !uid.Verified {
			continue
		}
		id := uid.Email
		if uid.Name != "" {
			id = fmt.Sprintf("%s <%s>", uid.Name, uid.Email)
		}
		fmt.Fprintf(&b, "uid:%s:::\n", url.QueryEscape(id))
	}
	return b.String()
}
