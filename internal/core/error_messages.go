package core

// error_messages.go maps technical errors to user-friendly messages.
//
// Typed domain errors are checked first with errors.Is; anything else falls
// back to case-insensitive substring patterns over the error text, which
// covers driver errors that reach the web layer unwrapped.
//
// Error code reference:
//
//	VAL001-VAL006  validation (rows, filters, mappings)
//	CFG001-CFG002  configuration (source registry, tables)
//	DB001-DB006    storage
//	IMP001-IMP005  import pipeline
//	FILE001-FILE004 uploaded files
//	ERR000         unknown

import (
	"errors"
	"strings"
)

// UserMessage contains a user-friendly error message and a suggested action.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

// sentinelMessages is checked in order; the first errors.Is match wins.
// Specific sentinels come before the taxonomy sentinels they wrap.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrInvalidTransition, UserMessage{
		Message: "This step is not available for the import right now",
		Action:  "Refresh the import to see its current state",
		Code:    "IMP001",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "Too many imports are running",
		Action:  "Wait a moment and confirm again",
		Code:    "IMP002",
	}},
	{ErrNotPermitted, UserMessage{
		Message: "You are not allowed to import into this table",
		Action:  "Ask an administrator to grant access to this table",
		Code:    "IMP004",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "File is empty",
		Action:  "Upload a file with a header row and at least one data row",
		Code:    "FILE002",
	}},
	{ErrValidation, UserMessage{
		Message: "Some of the input is invalid",
		Action:  "Check the highlighted value and try again",
		Code:    "VAL001",
	}},
	{ErrNotFound, UserMessage{
		Message: "The requested item was not found",
		Action:  "It may have expired; start again",
		Code:    "IMP003",
	}},
	{ErrConfiguration, UserMessage{
		Message: "The service is misconfigured",
		Action:  "Contact support with the error code",
		Code:    "CFG001",
	}},
	{ErrTransientIO, UserMessage{
		Message: "The database is temporarily unavailable",
		Action:  "Wait a moment and retry",
		Code:    "DB004",
	}},
}

// errorPattern maps an error substring to a user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is checked in order; first match wins.
var errorPatterns = []errorPattern{
	// ==========================================================================
	// Storage
	// ==========================================================================
	{"duplicate key", UserMessage{
		Message: "A record with this email already exists",
		Action:  "Re-run the import; existing records are updated by email",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate values in the file",
		Code:    "DB002",
	}},
	{"not-null constraint", UserMessage{
		Message: "A required field is missing",
		Action:  "Map a column to every required field",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Wait a moment and retry",
		Code:    "DB004",
	}},
	{"database is locked", UserMessage{
		Message: "The database is busy",
		Action:  "Wait a moment and retry",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or retry later",
		Code:    "DB006",
	}},
	{"deadline exceeded", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or retry later",
		Code:    "DB006",
	}},

	// ==========================================================================
	// Validation
	// ==========================================================================
	{"invalid email", UserMessage{
		Message: "Email address is not valid",
		Action:  "Fix the email in the source file",
		Code:    "VAL002",
	}},
	{"missing email", UserMessage{
		Message: "Email address is required",
		Action:  "Map a column to the email field",
		Code:    "VAL003",
	}},
	{"invalid date", UserMessage{
		Message: "Invalid date format",
		Action:  "Use YYYY-MM-DD",
		Code:    "VAL004",
	}},
	{"invalid number", UserMessage{
		Message: "Invalid number format",
		Action:  "Remove letters and symbols from numeric columns",
		Code:    "VAL005",
	}},
	{"invalid boolean", UserMessage{
		Message: "Invalid yes/no value",
		Action:  "Use true/false, yes/no or 1/0",
		Code:    "VAL006",
	}},

	// ==========================================================================
	// Files
	// ==========================================================================
	{"unsupported encoding", UserMessage{
		Message: "File encoding is not supported",
		Action:  "Save the file as UTF-8",
		Code:    "FILE003",
	}},
	{"parse error", UserMessage{
		Message: "File could not be parsed",
		Action:  "Check that the file is valid CSV",
		Code:    "FILE004",
	}},
	{"bare \" in non-quoted-field", UserMessage{
		Message: "File could not be parsed",
		Action:  "Check that the file is valid CSV",
		Code:    "FILE004",
	}},

	// ==========================================================================
	// Tables
	// ==========================================================================
	{"unknown table", UserMessage{
		Message: "Table does not exist",
		Action:  "Pick a table from the list",
		Code:    "CFG002",
	}},
	{"cancelled", UserMessage{
		Message: "Operation was cancelled",
		Action:  "Start the operation again",
		Code:    "IMP005",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the default message if no specific mapping exists.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			msg := s.msg
			var ve *ValidationError
			if s.target == ErrValidation && errors.As(err, &ve) && ve.Message != "" {
				msg.Message = ve.Message
			}
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(errStr, p.pattern) {
			return p.msg
		}
	}

	return defaultMessage
}

// FormatUserError returns a formatted string with the message, code and action.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := MapError(err)
	return msg.Message + " (Code: " + msg.Code + "). " + msg.Action
}

// IsUserFacing returns true if the error has a specific mapping.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError from a technical error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
