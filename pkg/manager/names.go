package manager

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openadcm/adcm/pkg/model"
)

var (
	objectNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-](?:[a-zA-Z0-9._ -]*[a-zA-Z0-9._-])?$`)
	fqdnRe       = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9.-]*[a-zA-Z0-9])?$`)
)

// names checks cluster, provider and host names.
type names struct {
	validate *validator.Validate
}

type nameInput struct {
	Name string `validate:"min=2,max=150,object_name"`
}

type fqdnInput struct {
	FQDN string `validate:"min=1,max=253,fqdn_name"`
}

func newNames() *names {
	v := validator.New()
	_ = v.RegisterValidation("object_name", func(fl validator.FieldLevel) bool {
		return objectNameRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("fqdn_name", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return fqdnRe.MatchString(s) && !strings.Contains(s, "..")
	})
	return &names{validate: v}
}

// Object checks a cluster or provider name: 2 to 150 letters, digits, dots,
// dashes, underscores and inner spaces.
func (n *names) Object(what, name string) error {
	if err := n.validate.Struct(nameInput{Name: name}); err != nil {
		return model.InvalidInput(model.ErrCodeWrongName,
			"%s name %q is not valid: %s", what, name, tagOf(err))
	}
	return nil
}

// FQDN checks a host name.
func (n *names) FQDN(fqdn string) error {
	if err := n.validate.Struct(fqdnInput{FQDN: fqdn}); err != nil {
		return model.InvalidInput(model.ErrCodeWrongName, "host name %q is not valid: %s", fqdn, tagOf(err))
	}
	return nil
}

func tagOf(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "min":
			return fmt.Sprintf("shorter than %s characters", verrs[0].Param())
		case "max":
			return fmt.Sprintf("longer than %s characters", verrs[0].Param())
		default:
			return "unexpected characters"
		}
	}
	return err.Error()
}
