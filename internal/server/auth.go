package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/consultly/internal/observability/context"
)

const contextAccountIDKey = "account_id"

// BearerAuth accepts HS256 tokens whose sub claim is the caller's account id.
func BearerAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		token, err := jwt.Parse(strings.TrimSpace(parts[1]), func(token *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || len(key) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		accountID, err := strconv.ParseInt(subject, 10, 64)
		if err != nil || accountID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAccountIDKey, snowflake.ID(accountID))
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "account", subject))
		c.Next()
	}
}

func callerID(c *gin.Context) snowflake.ID {
	if value, ok := c.Get(contextAccountIDKey); ok {
		if id, ok := value.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}
