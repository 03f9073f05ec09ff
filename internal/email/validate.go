package email

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterStructValidation(actionRules, Action{})
	return v
}

// actionRules enforces the fields that depend on the action type.
func actionRules(sl validator.StructLevel) {
	a := sl.Current().Interface().(Action)
	switch a.Type {
	case ActionMove:
		if strings.TrimSpace(a.FolderID) == "" {
			sl.ReportError(a.FolderID, "folderId", "FolderID", "required_for", string(a.Type))
		}
	case ActionAddLabel, ActionRemoveLabel:
		if len(a.LabelIDs) == 0 {
			sl.ReportError(a.LabelIDs, "labelIds", "LabelIDs", "required_for", string(a.Type))
			return
		}
		for i, id := range a.LabelIDs {
			if strings.TrimSpace(id) == "" {
				sl.ReportError(id, fmt.Sprintf("labelIds[%d]", i), "LabelIDs", "required", "")
			}
		}
	}
}

// Validate checks v against its validate tags and returns a
// *ValidationError describing every failed field.
func Validate(v any) error {
	return fromValidator(validate.Struct(v))
}

func fromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return &ValidationError{Details: details}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_for":
		return "is required for " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email address"
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	default:
		return "failed the " + fe.Tag() + " check"
	}
}

type messageRef struct {
	MessageID string `json:"messageId" validate:"required"`
}

type replyInput struct {
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type forwardInput struct {
	MessageID  string   `json:"messageId" validate:"required"`
	Recipients []string `json:"recipients" validate:"required,min=1,dive,required,email"`
}
