package core

// error_messages.go maps technical errors to user-facing messages.
//
// Every message carries a code that users can quote to support:
//
//	FILE001  File too large              pattern "file too large"
//	FILE002  File could not be parsed    kind malformed_input
//	FILE003  File has no data rows       kind empty_input
//	FILE004  No file was selected        pattern "no file provided"
//	FILE005  Unsupported file type       pattern "unsupported file type"
//	TPL001   Template not found          kind template_not_found
//	TPL002   Invalid company name        ErrInvalidTemplateID
//	TPL003   Unsupported template type   pattern "unsupported template type"
//	TPL004   Company name missing        pattern "missing company name"
//	TPL005   Template storage failed     kind template_store
//	RND001   A letter failed to render   kind render
//	ARC001   Archive could not be built  kind archive_write
//	BAT001   System busy                 ErrTooManyBatches
//	BAT002   Batch timed out             context.DeadlineExceeded
//	BAT003   Batch cancelled             kind cancelled, context.Canceled
//	RATE001  Too many requests           pattern "rate limit"
//	ERR000   Unexpected error            fallback
//
// Typed errors are checked first, then patterns in order (case-insensitive,
// first match wins).

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

var (
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the data into smaller files",
		Code:    "FILE001",
	}
	msgMalformed = UserMessage{
		Message: "The data file could not be read",
		Action:  "Check the file is a valid CSV, TSV or XLSX with one header row",
		Code:    "FILE002",
	}
	msgEmpty = UserMessage{
		Message: "The data file has no rows",
		Action:  "Add at least one data row below the header",
		Code:    "FILE003",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Choose a file to upload",
		Code:    "FILE004",
	}
	msgUnsupportedFile = UserMessage{
		Message: "Unsupported data file type",
		Action:  "Upload a .csv, .tsv or .xlsx file",
		Code:    "FILE005",
	}
	msgTemplateNotFound = UserMessage{
		Message: "No template is stored for this company",
		Action:  "Upload a template for the company first",
		Code:    "TPL001",
	}
	msgInvalidTemplateID = UserMessage{
		Message: "The company name is not usable as a template name",
		Action:  "Use letters, digits, dots, dashes or underscores",
		Code:    "TPL002",
	}
	msgUnsupportedTemplate = UserMessage{
		Message: "Unsupported template type",
		Action:  "Upload a .docx or .html template",
		Code:    "TPL003",
	}
	msgMissingCompany = UserMessage{
		Message: "Missing company name",
		Action:  "Enter the company the letters are for",
		Code:    "TPL004",
	}
	msgTemplateStore = UserMessage{
		Message: "Templates could not be loaded",
		Action:  "Please try again or contact support",
		Code:    "TPL005",
	}
	msgRender = UserMessage{
		Message: "A letter could not be generated",
		Action:  "Check the template placeholders match the data columns",
		Code:    "RND001",
	}
	msgArchive = UserMessage{
		Message: "The letters archive could not be built",
		Action:  "Please try again or contact support",
		Code:    "ARC001",
	}
	msgBusy = UserMessage{
		Message: "System is busy generating other batches",
		Action:  "Please wait a moment and try again",
		Code:    "BAT001",
	}
	msgTimeout = UserMessage{
		Message: "Letter generation timed out",
		Action:  "Try a smaller data file",
		Code:    "BAT002",
	}
	msgCancelled = UserMessage{
		Message: "Letter generation was cancelled",
		Action:  "Please try again",
		Code:    "BAT003",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

var kindMessages = map[ErrorKind]UserMessage{
	KindMalformedInput:   msgMalformed,
	KindEmptyInput:       msgEmpty,
	KindTemplateNotFound: msgTemplateNotFound,
	KindRender:           msgRender,
	KindArchiveWrite:     msgArchive,
	KindCancelled:        msgCancelled,
	KindTemplateStore:    msgTemplateStore,
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{pattern: "unsupported file type", msg: msgUnsupportedFile},
	{pattern: "unsupported template type", msg: msgUnsupportedTemplate},
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "request body too large", msg: msgFileTooLarge},
	{pattern: "no file provided", msg: msgNoFile},
	{pattern: "missing company name", msg: msgMissingCompany},
	{pattern: "rate limit", msg: msgRateLimited},
}

// defaultMessage is the ERR000 fallback. Logs hold the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	switch {
	case errors.Is(err, ErrTooManyBatches):
		return msgBusy
	case errors.Is(err, ErrInvalidTemplateID):
		return msgInvalidTemplateID
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, context.Canceled):
		return msgCancelled
	}

	if be, ok := AsBatchError(err); ok {
		if msg, ok := kindMessages[be.Kind]; ok {
			return msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
