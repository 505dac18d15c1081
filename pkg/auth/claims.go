package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	Email  string
	Role   enums.Role
	JTI    string
}

// AccessTokenClaims represents the JWT issued by the identity service.
type AccessTokenClaims struct {
	UserID string     `json:"user_id"`
	Email  string     `json:"email"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}
