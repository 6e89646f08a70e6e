package claims

import "github.com/classbank/classbank/internal/apperr"

var (
	ErrClaimNotFound        = apperr.NotFound("claim_not_found", "claim not found")
	ErrPolicyNotFound       = apperr.NotFound("policy_not_found", "policy not found")
	ErrPolicyInactive       = apperr.Validation("policy_inactive", "policy is not active")
	ErrTransactionRequired  = apperr.Validation("transaction_required", "policy requires a transaction")
	ErrTransactionForbidden = apperr.Validation("transaction_not_allowed", "flat policies do not reference a transaction")
	ErrTransactionNotFound  = apperr.NotFound("transaction_not_found", "transaction not found in this class period")
	ErrDuplicateClaim       = apperr.Conflict("claim_exists", "a claim for this transaction is already open; withdraw it or wait for a decision")
	ErrNotPending           = apperr.Conflict("claim_not_pending", "claim is no longer pending")
	ErrStaleClaim           = apperr.Conflict("claim_state_changed", "claim was changed by another request")
	ErrAdminRequired        = apperr.Authorization("admin_required", "admin role required")
	ErrNotFiler             = apperr.Authorization("not_claim_owner", "only the filer may withdraw a claim")

	// Re-validation failures at approval name the violated condition.
	ErrTransactionVoided         = apperr.Validation("transaction_voided", "transaction voided")
	ErrTransactionTenantMismatch = apperr.Authorization("transaction_tenant_mismatch", "transaction belongs to another class period")
	ErrTransactionOwnerMismatch  = apperr.Authorization("transaction_owner_mismatch", "transaction belongs to another student")
)

// activeClaimConstraint names the uniqueness guarantee on active claims.
const activeClaimConstraint = "claims_active_transaction_uidx"
