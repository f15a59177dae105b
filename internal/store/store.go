// Package store persists templates and batch history.
//
// Two template backends are provided: FS keeps one file per template in a
// directory, Postgres keeps templates in the letter_templates table. Batch
// history is kept in batch_runs by PostgresLog.
package store

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/letters/internal/core"
)

// Formats lists the template formats a store accepts, in resolve order.
var Formats = []string{"docx", "html"}

func validFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// checkInput normalizes the id and validates the format.
func checkInput(id, format string) (string, string, error) {
	norm, err := core.NormalizeTemplateID(id)
	if err != nil {
		return "", "", err
	}
	format = strings.ToLower(format)
	if !validFormat(format) {
		return "", "", fmt.Errorf("unsupported template type %q", format)
	}
	return norm, format, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", core.ErrTemplateNotFound, id)
}
