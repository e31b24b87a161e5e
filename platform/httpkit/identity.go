package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RoleAdmin may trigger scheduler runs and read the operator feeds.
	RoleAdmin = "admin"

	contextOperatorKey = "operator"
)

// Operator is the authenticated caller of an admin endpoint, taken from the
// access token claims.
type Operator struct {
	ID    uuid.UUID
	Email string
	Roles []string
}

// HasRole reports whether the operator carries role.
func (o Operator) HasRole(role string) bool {
	return slices.Contains(o.Roles, role)
}

// Label identifies the operator in logs and history entries.
func (o Operator) Label() string {
	if o.Email != "" {
		return o.Email
	}
	return o.ID.String()
}

func setOperator(c *gin.Context, op Operator) {
	c.Set(contextOperatorKey, op)
}

// GetOperator returns the operator stored by AuthRequired. The second return
// is false on unauthenticated routes.
func GetOperator(c *gin.Context) (Operator, bool) {
	value, ok := c.Get(contextOperatorKey)
	if !ok {
		return Operator{}, false
	}
	op, ok := value.(Operator)
	return op, ok
}
