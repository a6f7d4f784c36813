package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"licensesrv/internal/license"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 64 << 10

// errMalformedBody is returned for bodies that are not a JSON object
var errMalformedBody = errors.New("request body must be a JSON object")

// normalizer is a request that cleans its own fields before validation
type normalizer interface {
	Normalize()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and checks its validate tags.
// A missing required field comes back as *license.FieldError naming the
// first such field in declaration order.
func decodeRequest(v *validator.Validate, w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if n, ok := dst.(normalizer); ok {
		n.Normalize()
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		first := verrs[0]
		if first.Tag() == "required" {
			return license.MissingField(first.Field())
		}
		return &invalidFieldError{field: first.Field(), tag: first.Tag(), param: first.Param()}
	}
	return nil
}

// invalidFieldError is a present but unacceptable field
type invalidFieldError struct {
	field string
	tag   string
	param string
}

func (e *invalidFieldError) Error() string {
	switch e.tag {
	case "email":
		return fmt.Sprintf("%s must be a valid email address", e.field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.field, e.param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.field, e.param)
	}
	return fmt.Sprintf("%s is invalid", e.field)
}
