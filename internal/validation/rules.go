package validation

import (
	"fmt"
	"net/url"
	"strings"

	validation "github.com/jellydator/validation"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

// Wrap attaches a validation failure to the owning package's sentinel error.
func Wrap(sentinel, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", sentinel, err.Error())
}

// NotBlank rejects strings made only of whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// ObjectReference requires the type[id] form
var ObjectReference = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := types.ParseObjectRef(s)
		return err == nil
	},
	validation.NewError("validation_object_reference", "must be an object reference of the form type[id]"),
)

// Action accepts a CRUD action name or an HTTP verb that maps to one
var Action = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := types.ParseAction(s)
		return err == nil
	},
	validation.NewError("validation_action", "must be create, read, update, delete or a matching HTTP method"),
)

// HTTPMethod accepts only verbs with a CRUD mapping
var HTTPMethod = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := types.ActionForMethod(s)
		return err == nil
	},
	validation.NewError("validation_http_method", "must be POST, GET, PUT, PATCH or DELETE"),
)

// AbsoluteURL requires an http or https URL with a host
var AbsoluteURL = validation.NewStringRuleWithError(
	func(s string) bool {
		u, err := url.Parse(s)
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	},
	validation.NewError("validation_absolute_url", "must be an absolute http(s) URL"),
)
