package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "malformed input", err: malformed(nil, "invalid delimited file"), wantCode: "FILE002"},
		{name: "unsupported extension", err: malformed(nil, `unsupported file type "a.pdf"`), wantCode: "FILE005"},
		{name: "empty input", err: newBatchError(KindEmptyInput, NoRow, nil, "no data rows"), wantCode: "FILE003"},
		{name: "template not found", err: newBatchError(KindTemplateNotFound, NoRow, ErrTemplateNotFound, "acme"), wantCode: "TPL001"},
		{name: "invalid template id", err: fmt.Errorf("%w: %q", ErrInvalidTemplateID, "***"), wantCode: "TPL002"},
		{name: "unsupported template", err: errors.New("unsupported template type \".pdf\""), wantCode: "TPL003"},
		{name: "render error with row", err: newBatchError(KindRender, 3, errors.New("boom"), "render"), wantCode: "RND001"},
		{name: "archive error", err: newBatchError(KindArchiveWrite, NoRow, nil, "disk full"), wantCode: "ARC001"},
		{name: "template store error", err: newBatchError(KindTemplateStore, NoRow, errors.New("connection refused"), "resolve template %q", "acme"), wantCode: "TPL005"},
		{name: "too many batches", err: fmt.Errorf("acquire: %w", ErrTooManyBatches), wantCode: "BAT001"},
		{name: "cancelled by deadline", err: newBatchError(KindCancelled, 2, context.DeadlineExceeded, "aborted"), wantCode: "BAT002"},
		{name: "cancelled by client", err: newBatchError(KindCancelled, 2, context.Canceled, "aborted"), wantCode: "BAT003"},
		{name: "body too large", err: errors.New("http: request body too large"), wantCode: "FILE001"},
		{name: "missing company", err: errors.New("missing company name or data file"), wantCode: "TPL004"},
		{name: "rate limit", err: errors.New("rate limit exceeded"), wantCode: "RATE001"},
		{name: "case insensitive", err: errors.New("NO FILE PROVIDED"), wantCode: "FILE004"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := newBatchError(KindEmptyInput, NoRow, nil, "no data rows after header")
	want := "The data file has no rows (Code: FILE003). Add at least one data row below the header"
	if got := FormatUserError(err); got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "batch error is user facing", err: newBatchError(KindRender, 0, nil, "x"), want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
