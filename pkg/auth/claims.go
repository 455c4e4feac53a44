package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleOperator is the only role accepted on the ops surface.
const RoleOperator = "operator"

// OperatorTokenPayload captures the data available when minting an operator JWT.
type OperatorTokenPayload struct {
	OperatorID uuid.UUID
	Email      string
	JTI        string
}

// OperatorClaims represents the typed JWT carried by back-office operators.
type OperatorClaims struct {
	OperatorID uuid.UUID `json:"operator_id"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role"`
	jwt.RegisteredClaims
}
