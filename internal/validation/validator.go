package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the custom tags and struct-level validation
// this service relies on.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("iso8601", isISO8601)

	// register struct-level validation for RecordActionRequest to ensure exactly one
	// of action/start/end is present.
	v.RegisterStructValidation(recordActionStructValidation, RecordActionRequest{})

	return v
}

func isISO8601(fl validatorv10.FieldLevel) bool {
	_, err := ParseTimestamp(fl.Field().String())
	return err == nil
}

func recordActionStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RecordActionRequest)

	set := 0
	for _, f := range []string{req.Action, req.Start, req.End} {
		if f != "" {
			set++
		}
	}
	if set != 1 {
		sl.ReportError(req.Action, "action", "Action", "exactly_one_of_action_start_end", "")
	}
}
