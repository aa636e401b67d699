package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrEmailTaken         ErrCode = "EMAIL_TAKEN"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session ───────────────────────────────────────────────────────
	ErrTestNotAvailable    ErrCode = "TEST_NOT_AVAILABLE"
	ErrTestLoadFailed      ErrCode = "TEST_LOAD_FAILED"
	ErrAttemptsExhausted   ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrNoActiveSession     ErrCode = "NO_ACTIVE_SESSION"
	ErrInvalidSessionState ErrCode = "INVALID_SESSION_STATE"
	ErrProctorNotReady     ErrCode = "PROCTOR_NOT_READY"
	ErrCapabilityDenied    ErrCode = "CAPABILITY_DENIED"
	ErrQuestionMismatch    ErrCode = "QUESTION_MISMATCH"
	ErrSubmissionFailed    ErrCode = "SUBMISSION_FAILED"
	ErrSubmissionPending   ErrCode = "SUBMISSION_PENDING"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired ErrCode = "FILE_REQUIRED"
	ErrFileTooLarge ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid email or password."
	case ErrSessionActive:
		return "You are already signed in on another device."
	case ErrSessionInvalidated:
		return "Your session has ended. Please sign in again."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."
	case ErrEmailTaken:
		return "An account with this email already exists."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is limited to students."
	case ErrTeacherAccessOnly:
		return "This resource is limited to teachers."
	case ErrAdminAccessOnly:
		return "This resource is limited to administrators."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrTestNotAvailable:
		return "This test is not currently available."
	case ErrTestLoadFailed:
		return "The test could not be loaded."
	case ErrAttemptsExhausted:
		return "You have used every allowed attempt for this test."
	case ErrNoActiveSession:
		return "No active session for this test."
	case ErrInvalidSessionState:
		return "This action is not allowed at the current stage of the test."
	case ErrProctorNotReady:
		return "Camera and screen sharing must both be enabled before starting."
	case ErrCapabilityDenied:
		return "Device access was denied. Please allow access and try again."
	case ErrQuestionMismatch:
		return "The answer was meant for a different question."
	case ErrSubmissionFailed:
		return "Submission failed. Your answers are kept; please try again."
	case ErrSubmissionPending:
		return "A submission is already in progress."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "File upload is required."
	case ErrFileTooLarge:
		return "File size exceeds the limit."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
