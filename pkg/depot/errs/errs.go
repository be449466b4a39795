// Package errs defines the error taxonomy shared by every depot component.
// Each class marks a family of failures the API layer maps to a single HTTP
// status, so stores and services never import net/http.
package errs

import (
	"net/http"

	"github.com/zeebo/errs"
)

// Error classes. Stores wrap raw database failures with Internal; everything
// else is a deliberate verdict on the caller's request.
var (
	// Validation marks malformed or self-contradictory input: empty
	// changelists, missing target branches, duplicate version numbers.
	Validation = errs.Class("validation")

	// Permission marks role or ownership check failures.
	Permission = errs.Class("permission")

	// NotFound marks lookups of entities that do not exist.
	NotFound = errs.Class("not found")

	// StateConflict marks operations rejected by current entity state:
	// a held lock, an unmet merge gate, an archived project. Callers may
	// retry after the underlying condition clears.
	StateConflict = errs.Class("state conflict")

	// Integrity marks referential breakage that indicates caller misuse,
	// such as an asset version pointing at a foreign project.
	Integrity = errs.Class("integrity")

	// Internal wraps unexpected store and driver failures.
	Internal = errs.Class("internal")
)

// Wrap attaches Internal to err unless it already carries a class.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if Validation.Has(err) || Permission.Has(err) || NotFound.Has(err) ||
		StateConflict.Has(err) || Integrity.Has(err) || Internal.Has(err) {
		return err
	}
	return Internal.Wrap(err)
}

// HTTPStatus maps an error to the response status its class mandates.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Validation.Has(err):
		return http.StatusBadRequest
	case Permission.Has(err):
		return http.StatusForbidden
	case NotFound.Has(err):
		return http.StatusNotFound
	case StateConflict.Has(err):
		return http.StatusConflict
	case Integrity.Has(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
