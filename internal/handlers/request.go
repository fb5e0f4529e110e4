package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/middleware"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

const maxBodySize = 1 << 20

var nowUTC = func() time.Time { return time.Now().UTC() }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names in messages
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// readJSON decodes a single JSON value from the body into dst.
func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
			return apperr.Invalidf("malformed JSON")
		case errors.As(err, &unmarshalTypeError):
			return apperr.Invalidf("invalid JSON type for " + unmarshalTypeError.Field)
		case errors.As(err, &maxBytesError):
			return apperr.Invalidf("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Invalidf("request body is empty")
		default:
			return apperr.Invalidf(err.Error())
		}
	}
	if decoder.More() {
		return apperr.Invalidf("body must contain only a single JSON value")
	}
	return nil
}

// readAndValidate decodes the body and checks its struct tags.
func readAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := readJSON(w, r, dst); err != nil {
		return err
	}
	return validateStruct(dst)
}

func validateStruct(dst interface{}) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		return apperr.Invalidf(validationMessage(validationErrors[0]))
	}
	return apperr.Invalidf("validation failed")
}

func validationMessage(err validator.FieldError) string {
	field := err.Field()
	switch err.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "len", "hexadecimal":
		return field + " must be a valid id"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, err.Param())
	default:
		return field + " is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("encode response")
	}
}

// writeError maps err through the error taxonomy. Internal errors are logged
// with their cause and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.Internal {
		log.WithError(err).WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
	}
	apperr.WriteJSON(w, err)
}

func principal(r *http.Request) (models.Principal, error) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		return models.Principal{}, apperr.Unauthenticatedf("user context not found")
	}
	return p, nil
}

// idParam parses a hex ObjectID URL parameter. Malformed ids are reported as
// missing resources.
func idParam(r *http.Request, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, apperr.NotFoundf("not found")
	}
	return id, nil
}
