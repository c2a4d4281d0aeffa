package cloudfetch

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// validate is shared; building a validator caches struct metadata.
var validate = validator.New()

// FetchRequest identifies the single resource a run reads. Either the
// (Namespace, Bucket, Object) triple or URL is set, never both.
type FetchRequest struct {
	// Namespace is the account/tenancy that owns the bucket. Optional.
	Namespace string `mapstructure:"namespace"`
	Bucket    string `mapstructure:"bucket" validate:"required_without=URL,excluded_with=URL"`
	Object    string `mapstructure:"object" validate:"required_without=URL,excluded_with=URL"`
	URL       string `mapstructure:"url" validate:"omitempty,url"`
}

// IsFeed reports whether the request targets a public URL rather than an object.
func (r *FetchRequest) IsFeed() bool {
	return r.URL != ""
}

func (r *FetchRequest) String() string {
	if r.IsFeed() {
		return r.URL
	}
	if r.Namespace != "" {
		return fmt.Sprintf("%s/%s/%s", r.Namespace, r.Bucket, r.Object)
	}
	return fmt.Sprintf("%s/%s", r.Bucket, r.Object)
}

// Validate checks that the request is fully specified.
func (r *FetchRequest) Validate() error {
	return ValidateStruct(r)
}

// ValidateStruct runs the shared validator over any struct with validate
// tags and flattens field errors into one message.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validation failed")
	}
	msg := ""
	for i, fe := range fieldErrs {
		if i > 0 {
			msg += "; "
		}
		msg += describeFieldError(fe)
	}
	return errors.New("invalid " + msg)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s: value is required", fe.Field())
	case "excluded_with":
		return fmt.Sprintf("%s: must not be combined with %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s: %q is not a valid URL", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s: failed %q check", fe.Field(), fe.Tag())
	}
}
