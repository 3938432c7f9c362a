package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"ideaforge/services/studio/internal/app"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid JSON body", "INVALID_REQUEST")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeAppError(w, r, validationError(err))
		return false
	}
	return true
}

// validationError reports the first failed rule as an app.ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &app.ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = fmt.Sprintf("must be at least %s characters", fe.Param())
		if fe.Kind() == reflect.Slice {
			msg = fmt.Sprintf("must contain at least %s items", fe.Param())
		}
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			msg = fmt.Sprintf("must contain at most %s items", fe.Param())
		}
	case "oneof":
		msg = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		msg = "is invalid"
	}
	return &app.ValidationError{Field: fieldPath(fe), Message: msg}
}

// fieldPath drops the struct name from the namespace: generateDocumentsRequest.types[1] -> types[1].
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
