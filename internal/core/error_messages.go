package core

// error_messages.go maps technical errors to messages safe to show users.
//
// # Error Codes Reference
//
// Dataset errors (DS001-DS099):
//
//	DS001 - Invalid dataset identifier
//	DS002 - Dataset not found
//
// Ingestion errors (ING001-ING099):
//
//	ING001 - Ingestion failed part way; the upload was not added to the catalog
//
// File errors (FILE001-FILE099):
//
//	FILE001 - File too large          Patterns: "file too large", "request body too large"
//	FILE002 - Wrong file type         Patterns: "unsupported file type"
//	FILE003 - No file selected        Patterns: "no file provided"
//
// Request errors (REQ001-REQ099):
//
//	REQ001 - Bad query parameter      Patterns: "invalid radius"
//
// Upload errors (UPL001-UPL099):
//
//	UPL001 - System busy              ErrTooManyIngestions
//	UPL002 - Request cancelled        context.Canceled
//	UPL003 - Request timed out        context.DeadlineExceeded
//
// Database errors (DB001-DB099):
//
//	DB001 - Connection refused        Patterns: "connection refused"
//	DB002 - Connection reset          Patterns: "connection reset", "broken pipe"
//	DB003 - Database busy             Patterns: "database is locked", "deadlock"
//	DB004 - Storage full              Patterns: "disk is full", "no space left"
//
// Default (ERR000): anything else. Check the logs for the technical error.
//
// Sentinel errors are matched first with errors.Is, so wrapping never hides
// them. Remaining errors fall back to case-insensitive substring matching in
// table order; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/wardrive/internal/schema"
)

// UserMessage is a user-facing error description.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

var (
	msgInvalidID = UserMessage{
		Message: "The dataset identifier is not valid",
		Action:  "Pick a dataset from the catalog",
		Code:    "DS001",
	}
	msgNotFound = UserMessage{
		Message: "Dataset not found",
		Action:  "Pick a dataset from the catalog",
		Code:    "DS002",
	}
	msgIngestion = UserMessage{
		Message: "The upload could not be stored",
		Action:  "Please upload the file again",
		Code:    "ING001",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL001",
	}
	msgCanceled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL002",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller log file or try again later",
		Code:    "UPL003",
	}
)

// sentinelMessages is checked before the pattern table.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{schema.ErrInvalidIdentifier, msgInvalidID},
	{schema.ErrNotFound, msgNotFound},
	{ErrTooManyIngestions, msgBusy},
	{context.Canceled, msgCanceled},
	{context.DeadlineExceeded, msgTimeout},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// File
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the log into smaller files", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum upload size", "Split the log into smaller files", "FILE001"}},
	{"unsupported file type", UserMessage{"Only .log files are accepted", "Upload the raw wardrive .log export", "FILE002"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a .log file to upload", "FILE003"}},

	// Request
	{"invalid radius", UserMessage{"The radius parameter is not a valid number", "Omit radius or pass a small positive value in degrees", "REQ001"}},

	// Database
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"broken pipe", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"database is locked", UserMessage{"Database was busy", "Please try again", "DB003"}},
	{"deadlock", UserMessage{"Database was busy", "Please try again", "DB003"}},
	{"disk is full", UserMessage{"Storage is full", "Contact the operator", "DB004"}},
	{"no space left", UserMessage{"Storage is full", "Contact the operator", "DB004"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts err into a user-facing message. A nil error yields the
// zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return msgIngestion
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: X). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
