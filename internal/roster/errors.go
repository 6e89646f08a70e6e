package roster

import "github.com/classbank/classbank/internal/apperr"

var (
	ErrTenantNotFound     = apperr.NotFound("tenant_not_found", "class period not found")
	ErrMembershipNotFound = apperr.NotFound("membership_not_found", "membership not found")
	ErrJoinCodeTaken      = apperr.Conflict("join_code_taken", "join code already in use")
)
