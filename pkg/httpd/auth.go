package httpd

import (
	"crypto/subtle"
	"net/http"

	"github.com/golang/glog"
)

// authorized checks basic credentials against the live settings.
// Empty configured credentials never authorize.
func (s *Server) authorized(r *http.Request) bool {
	vals, err := s.settings.Values()
	if err != nil {
		glog.Errorf("httpd: settings unavailable: %v", err)
		return false
	}
	if vals.HTTPAuthUser == "" || vals.HTTPAuthPassword == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(vals.HTTPAuthUser))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(vals.HTTPAuthPassword))
	return userOK&passOK == 1
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+s.config.Realm+`"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
