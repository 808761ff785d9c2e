package errors

// Business error codes, grouped by the families named in the governing
// specification's error taxonomy: Authentication (40xx), Authorization
// (41xx), Validation (42xx), Persistence (50xx), Fabric (51xx),
// External (52xx).
const (
	// Authentication — 40xx
	CodeInvalidCredentials = "AUTH40_INVALID_CREDENTIALS"
	CodeTokenExpired       = "AUTH40_TOKEN_EXPIRED"
	CodeTokenInvalid       = "AUTH40_TOKEN_INVALID"
	CodeTokenRevoked       = "AUTH40_TOKEN_REVOKED"
	CodeSessionExpired     = "AUTH40_SESSION_EXPIRED"

	// Authorization — 41xx
	CodeInsufficientPermissions = "AUTH41_INSUFFICIENT_PERMISSIONS"
	CodeOrganizationScopeDenied = "AUTH41_ORGANIZATION_SCOPE_DENIED"
	CodeRoleNotAssignable       = "AUTH41_ROLE_NOT_ASSIGNABLE"

	// Validation — 42xx
	CodeInvalidInput         = "VAL42_INVALID_INPUT"
	CodeRequiredFieldMissing = "VAL42_REQUIRED_FIELD_MISSING"
	CodeInvalidFormat        = "VAL42_INVALID_FORMAT"
	CodeCircularOrgMove      = "VAL42_CIRCULAR_ORGANIZATION_MOVE"

	// Persistence — 50xx
	CodeOrganizationNotFound     = "PER50_ORGANIZATION_NOT_FOUND"
	CodeUserNotFound             = "PER50_USER_NOT_FOUND"
	CodeRoleNotFound             = "PER50_ROLE_NOT_FOUND"
	CodePermissionNotFound       = "PER50_PERMISSION_NOT_FOUND"
	CodeDuplicateEntity          = "PER50_DUPLICATE_ENTITY"
	CodeNoOrganizationMembership = "PER50_NO_ORGANIZATION_MEMBERSHIP"

	// Fabric — 51xx
	CodeFabricTimeout       = "FAB51_TIMEOUT"
	CodeFabricRetryExhausted = "FAB51_RETRY_EXHAUSTED"
	CodeFabricCircuitOpen   = "FAB51_CIRCUIT_OPEN"

	// External — 52xx
	CodeIdPUnavailable  = "EXT52_IDP_UNAVAILABLE"
	CodeIdPExchangeFail = "EXT52_IDP_EXCHANGE_FAILED"
)

// ErrorCodeToMessage maps error codes to human-readable messages.
var ErrorCodeToMessage = map[string]string{
	CodeInvalidCredentials: "Invalid credentials",
	CodeTokenExpired:       "Access token has expired",
	CodeTokenInvalid:       "Invalid or malformed token",
	CodeTokenRevoked:       "Token has been revoked",
	CodeSessionExpired:     "Session has expired",

	CodeInsufficientPermissions: "Insufficient permissions to perform this action",
	CodeOrganizationScopeDenied: "Action not permitted at this organization scope",
	CodeRoleNotAssignable:       "Role cannot be assigned at this scope",

	CodeInvalidInput:         "Invalid input provided",
	CodeRequiredFieldMissing: "Required field is missing",
	CodeInvalidFormat:        "Invalid format",
	CodeCircularOrgMove:      "Move would create a circular organization hierarchy",

	CodeOrganizationNotFound:     "Organization not found",
	CodeUserNotFound:             "User not found",
	CodeRoleNotFound:             "Role not found",
	CodePermissionNotFound:       "Permission not found",
	CodeDuplicateEntity:          "Entity already exists",
	CodeNoOrganizationMembership: "User has no organization membership",

	CodeFabricTimeout:        "Message fabric call timed out",
	CodeFabricRetryExhausted: "Message fabric retries exhausted",
	CodeFabricCircuitOpen:    "Message fabric circuit breaker is open",

	CodeIdPUnavailable:  "Identity provider is unavailable",
	CodeIdPExchangeFail: "Identity provider code exchange failed",
}

// GetErrorMessage returns a human-readable message for the given error code.
func GetErrorMessage(code string) string {
	if message, exists := ErrorCodeToMessage[code]; exists {
		return message
	}
	return "An error occurred"
}

// NewErrorWithCode creates a new AppError with a specific error code,
// inferring its AppErrorType from the code's family prefix.
func NewErrorWithCode(code string, details string) *AppError {
	message := GetErrorMessage(code)

	var errorType AppErrorType
	switch {
	case len(code) >= 6 && code[:6] == "AUTH40":
		errorType = UnauthorizedError
	case len(code) >= 6 && code[:6] == "AUTH41":
		errorType = ForbiddenError
	case len(code) >= 3 && code[:3] == "VAL":
		errorType = ValidationError
	case len(code) >= 3 && code[:3] == "PER":
		errorType = PersistenceError
	case len(code) >= 3 && code[:3] == "FAB":
		errorType = FabricError
	case len(code) >= 3 && code[:3] == "EXT":
		errorType = ExternalError
	default:
		errorType = InternalError
	}

	return NewAppError(errorType, message, details, nil)
}
