// Package bind decodes and validates request input using go-playground/validator/v10.
//
// Failures are recorded in the wrapper context so handlers can simply return:
//
//	r.Post("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
//	    var req createTaskRequest
//	    if !bind.JSON(r, &req) {
//	        return
//	    }
//	    wrapper.SetResponse(r, http.StatusCreated, t)
//	})
package bind

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nhalm/taskapi/internal/wrapper"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		if name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
}

// message renders a validation tag as the text after the field name, e.g.
// "is required" or "must be one of: low, medium, high".
func message(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(param), ", ")
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}

// JSON decodes request body into dest and validates it.
// Returns true if binding and validation succeeded, false otherwise.
// On failure an error is set in the wrapper context (if available):
//   - 413 when the body exceeds a validate.MaxBodySize limit
//   - 400 "<field> must be a <type>" when a field has the wrong JSON type
//   - 400 "Invalid JSON request body" for malformed bodies
//   - 400 with field errors when validation fails
//
// An empty body decodes as {} so required fields are reported by name.
func JSON(r *http.Request, dest any) bool {
	ctx := r.Context()

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		if wrapper.HasState(ctx) {
			wrapper.SetError(r, decodeError(err))
		}
		return false
	}

	return check(r, dest)
}

func decodeError(err error) *wrapper.Error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return wrapper.ErrPayloadTooLarge.With("Request body too large")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return wrapper.ErrBadRequest.WithParam(
			fmt.Sprintf("%s must be a %s", typeErr.Field, jsonKind(typeErr.Type)),
			typeErr.Field,
		)
	}

	return wrapper.ErrBadRequest.With("Invalid JSON request body")
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "list"
	default:
		return "object"
	}
}

// Query decodes query parameters into dest and validates it.
// Returns true if binding and validation succeeded, false otherwise.
// When validation fails, an error is set in the wrapper context (if available).
func Query(r *http.Request, dest any) bool {
	if err := decodeQuery(r, dest); err != nil {
		if wrapper.HasState(r.Context()) {
			wrapper.SetError(r, wrapper.ErrBadRequest.With("Invalid query parameters"))
		}
		return false
	}

	return check(r, dest)
}

func check(r *http.Request, dest any) bool {
	if err := validate.Struct(dest); err != nil {
		if wrapper.HasState(r.Context()) {
			wrapper.SetError(r, wrapper.NewValidationError(translateErrors(err)))
		}
		return false
	}
	return true
}

func translateErrors(err error) []wrapper.FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []wrapper.FieldError{{
			Code:    "validation",
			Message: err.Error(),
		}}
	}
	result := make([]wrapper.FieldError, len(errs))
	for i, e := range errs {
		result[i] = wrapper.FieldError{
			Param:   e.Field(),
			Code:    e.Tag(),
			Message: message(e.Tag(), e.Param()),
		}
	}
	return result
}

func decodeQuery(r *http.Request, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("dest must be non-nil pointer to struct")
	}
	v := rv.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("dest must be pointer to struct, got pointer to %s", v.Kind())
	}
	t := v.Type()

	query := r.URL.Query()

	for i := range t.NumField() {
		structField := t.Field(i)
		tag := structField.Tag.Get("query")
		if tag == "" || tag == "-" {
			continue
		}

		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		name := strings.SplitN(tag, ",", 2)[0]
		value := query.Get(name)
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}

	return nil
}

func setField(field reflect.Value, value string) error {
	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported type: %s", field.Kind())
	}
	return nil
}
