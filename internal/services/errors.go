package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSetup         = errors.New("setup error")
	ErrTransient     = errors.New("transient failure")
	ErrData          = errors.New("data error")
	ErrConfiguration = errors.New("configuration error")
	ErrExternalTool  = errors.New("external tool error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
)

// Kind labels persisted alongside failed stage records.
const (
	KindTransient     = "transient"
	KindData          = "data"
	KindSetup         = "setup"
	KindConfiguration = "configuration"
	KindExternalTool  = "external_tool"
	KindNotFound      = "not_found"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to the classification label stored in the progress ledger.
// Unmarked errors and timeouts are transient: a later run may succeed.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSetup):
		return KindSetup
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrData):
		return KindData
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	default:
		return KindTransient
	}
}

// IsTransient reports whether err is worth retrying on a later run without
// operator intervention.
func IsTransient(err error) bool {
	return err != nil && Kind(err) == KindTransient
}

// Message returns the human-facing portion of a wrapped error, dropping the
// leading marker text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrSetup, ErrTransient, ErrData, ErrConfiguration, ErrExternalTool, ErrNotFound, ErrTimeout} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(msg, prefix))
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
