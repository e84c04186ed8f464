package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/jpgstack/tomo"
)

// Token returns an HS256-signed JWT carrying the given user.
func Token(secret, user string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("no secret key given for signing")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user": user})
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// LoadAuthFile reads a JSON list of user names allowed to browse.  A "*" entry
// admits any signed user.
func LoadAuthFile(filename string) (map[string]bool, error) {
	if filename == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("bad auth file %s: %v", filename, err)
	}
	authorized := make(map[string]bool, len(users))
	for _, user := range users {
		authorized[user] = true
	}
	return authorized, nil
}

func (s *Server) userAllowed(user string) bool {
	if len(s.users) == 0 {
		return true
	}
	return s.users[user] || s.users["*"]
}

// isAuthorized is middleware that validates a bearer JWT and sets c.Env["user"].
func (s *Server) isAuthorized(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.ServeHTTP(w, r)
			return
		}
		reqToken := r.Header.Get("Authorization")
		if len(reqToken) == 0 {
			unauthorized(w, r, "JWT required via Authorization in request header")
			return
		}
		splitToken := strings.Split(reqToken, "Bearer")
		if len(splitToken) != 2 || strings.TrimSpace(splitToken[1]) == "" {
			unauthorized(w, r, "bearer not in proper format")
			return
		}
		token, err := jwt.Parse(strings.TrimSpace(splitToken[1]), func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
			}
			return []byte(s.secret), nil
		})
		if err != nil {
			unauthorized(w, r, "error parsing JWT: %v", err)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			unauthorized(w, r, "failed authorization")
			return
		}
		user, ok := claims["user"].(string)
		if !ok {
			unauthorized(w, r, "user %v is not a simple string", claims["user"])
			return
		}
		if !s.userAllowed(user) {
			unauthorized(w, r, "user %q is not authorized", user)
			return
		}
		if c.Env == nil {
			c.Env = make(map[interface{}]interface{})
		}
		c.Env["user"] = user
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	tomo.Infof("Unauthorized request %s: %s\n", r.URL.Path, message)
	http.Error(w, message, http.StatusUnauthorized)
}
