package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yairfalse/cirrus/pkg/resource"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateAction checks struct tags, then the handler's own rules.
func validateAction(h Handler, action resource.ServiceAction) error {
	if err := validate.Struct(action); err != nil {
		return fmt.Errorf("%w: %s", resource.ErrValidation, describe(err))
	}
	if action.Kind == resource.ActionModify && action.Params.Empty() {
		return fmt.Errorf("%w: modify requires at least one parameter", resource.ErrValidation)
	}
	if v, ok := h.(ActionValidator); ok {
		if err := v.ValidateAction(action); err != nil {
			if errors.Is(err, resource.ErrValidation) {
				return err
			}
			return fmt.Errorf("%w: %v", resource.ErrValidation, err)
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.TrimPrefix(fe.Namespace(), "ServiceAction."), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
