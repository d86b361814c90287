package types

import (
	"github.com/google/uuid"

	"github.com/iretilight/retailpos-backend/pkg/enums"
)

// Principal identifies the authenticated register operator on a request.
type Principal struct {
	ID   uuid.UUID           `json:"id"`
	Role enums.PrincipalRole `json:"role"`
	Name string              `json:"name,omitempty"`
}
