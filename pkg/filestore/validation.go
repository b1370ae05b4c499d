package filestore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks caller supplied metadata before anything is written.
type Validator interface {
	ValidateMeta(meta *FileMeta) error
}

type structValidator struct {
	v *validator.Validate
}

// NewValidator returns the default metadata validator.
func NewValidator() Validator {
	return &structValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (s *structValidator) ValidateMeta(meta *FileMeta) error {
	if meta == nil {
		return fmt.Errorf("%w: meta is required", ErrValidation)
	}
	if err := s.v.Struct(meta); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateID rejects ids no backend can key on.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if len(id) > 1024 {
		return fmt.Errorf("%w: id exceeds 1024 bytes", ErrValidation)
	}
	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: id contains a null byte", ErrValidation)
	}
	return nil
}
