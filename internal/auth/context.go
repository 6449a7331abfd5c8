package auth

import "github.com/gin-gonic/gin"

const sessionKey = "auth.session"

func SetSession(c *gin.Context, s Session) {
	c.Set(sessionKey, s)
}

func SessionFrom(c *gin.Context) (Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}
