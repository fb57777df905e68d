package types

import "fmt"

type validationErr struct{ msg string }

func (e *validationErr) Error() string { return e.msg }

func errRequired(field string) error {
	return &validationErr{msg: fmt.Sprintf("%s is required", field)}
}

func errInvalid(field, value string) error {
	return &validationErr{msg: fmt.Sprintf("invalid %s: %q", field, value)}
}

func errInvariant(msg string) error {
	return &validationErr{msg: msg}
}
