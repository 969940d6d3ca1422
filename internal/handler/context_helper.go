package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kentpulse/kentpulse-api/internal/middleware"
	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/policy"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext derives the policy actor for the request. Routes
// behind OptionalJWT yield the anonymous actor when no token is set.
func actorFromContext(c *gin.Context) policy.Actor {
	return policy.ActorFromClaims(claimsFromContext(c))
}
