package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

// customTags are domain enums validated by name.
var customTags = map[string]struct {
	fn      govalidator.Func
	message string
}{
	"question_type": {
		fn:      func(fl govalidator.FieldLevel) bool { return model.QuestionType(fl.Field().String()).Known() },
		message: "{0} must be a supported question type",
	},
	"flag_type": {
		fn:      func(fl govalidator.FieldLevel) bool { return model.FlagType(fl.Field().String()).Valid() },
		message: "{0} must be a known proctor flag type",
	},
	"capability": {
		fn:      func(fl govalidator.FieldLevel) bool { return proctor.Capability(fl.Field().String()).Valid() },
		message: "{0} must be camera or screen",
	},
}

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}
	Register(v)
}

// Register installs tag names, custom tags and translations on v.
func Register(v *govalidator.Validate) {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	for tag, ct := range customTags {
		_ = v.RegisterValidation(tag, ct.fn)
		msg := ct.message
		_ = v.RegisterTranslation(tag, trans,
			func(u ut.Translator) error { return u.Add(tag, msg, true) },
			func(u ut.Translator, fe govalidator.FieldError) string {
				t, _ := u.T(fe.Tag(), fe.Field())
				return t
			},
		)
	}
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans != nil {
				fields[fe.Field()] = fe.Translate(trans)
			} else {
				fields[fe.Field()] = fe.Error()
			}
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
