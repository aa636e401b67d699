package validator

import (
	"testing"

	govalidator "github.com/go-playground/validator/v10"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type capabilityBody struct {
	Capability string `json:"capability" validate:"required,capability"`
}

type flagBody struct {
	Type model.FlagType `json:"type" validate:"required,flag_type"`
}

func newValidate() *govalidator.Validate {
	v := govalidator.New()
	Register(v)
	return v
}

func TestCustomTags(t *testing.T) {
	v := newValidate()

	if err := v.Struct(flagBody{Type: model.FlagMultipleFaces}); err != nil {
		t.Fatalf("valid flag rejected: %v", err)
	}
	err := v.Struct(flagBody{Type: "sneezing"})
	if err == nil {
		t.Fatalf("unknown flag accepted")
	}
	fields := TranslateErrors(err)
	if fields["type"] != "type must be a known proctor flag type" {
		t.Fatalf("translation: got %v", fields)
	}

	if err := v.Struct(capabilityBody{Capability: "screen"}); err != nil {
		t.Fatalf("valid capability rejected: %v", err)
	}
	if err := v.Struct(capabilityBody{Capability: "microphone"}); err == nil {
		t.Fatalf("unknown capability accepted")
	}
}

func TestRegisterRequestShapes(t *testing.T) {
	v := newValidate()
	v.SetTagName("binding")

	bad := model.RegisterRequest{Name: "A", Email: "not-an-email", Password: "123", ConfirmPassword: "456", Role: "admin"}
	fields := TranslateErrors(v.Struct(bad))
	for _, f := range []string{"email", "password", "confirm_password", "role"} {
		if _, ok := fields[f]; !ok {
			t.Fatalf("missing error for %s: %v", f, fields)
		}
	}
}
