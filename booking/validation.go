package booking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================
//
// Struct tags cover shape (required fields, formats). Policy rules that
// depend on configuration (visitor count, support text length, notice
// window) are checked by hand against the engine's Policy.

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields under their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})
	return v
}

// collect copies validator failures into ve. Errors that are not field
// failures are returned as is.
func collect(ve *session.ValidationError, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		ve.Add(fieldPath(fe.Namespace()), describe(fe))
	}
	return nil
}

// fieldPath drops the root struct name: "ReserveRequest.visitors[0].name" -> "visitors[0].name".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

func (p Policy) checkVisitors(ve *session.ValidationError, visitors []Visitor) {
	switch {
	case len(visitors) == 0:
		ve.Add("visitors", "at least one visitor is required")
	case p.MaxVisitors > 0 && len(visitors) > p.MaxVisitors:
		ve.Add("visitors", fmt.Sprintf("at most %d visitors are allowed", p.MaxVisitors))
	}
}

func (p Policy) checkSupport(ve *session.ValidationError, support string) {
	if support == "" {
		return
	}
	if len(strings.TrimSpace(support)) < p.MinSupportLength {
		ve.Add("visitorSupport", fmt.Sprintf("must be at least %d characters", p.MinSupportLength))
	}
}

// checkDate verifies that date is a real occurrence of def and inside the
// booking window relative to today.
func (p Policy) checkDate(ve *session.ValidationError, def session.Definition, date session.Date, today session.Date) {
	if date.IsZero() {
		ve.Add("sessionDate", "is required")
		return
	}
	if !session.IsOccurrence(date, def) {
		ve.Add("sessionDate", fmt.Sprintf("session %s does not run on %s", def.Reference, date))
		return
	}
	if date.Before(today.AddDays(p.MinNoticeDays)) {
		ve.Add("sessionDate", fmt.Sprintf("must be at least %d days ahead", p.MinNoticeDays))
		return
	}
	if p.MaxNoticeDays > 0 && date.After(today.AddDays(p.MaxNoticeDays)) {
		ve.Add("sessionDate", fmt.Sprintf("must be at most %d days ahead", p.MaxNoticeDays))
	}
}
