package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput is returned when a requirement is missing mandatory fields.
var ErrInvalidInput = errors.New("invalid input")

// InputMethod says how the user described the requirement.
type InputMethod string

const (
	// InputText is a free-text title plus description.
	InputText InputMethod = "text"
	// InputForm is a structured form with categorical fields.
	InputForm InputMethod = "form"
)

// ParseInputMethod maps a request value to an InputMethod. Anything other than "text" is a form.
func ParseInputMethod(s string) InputMethod {
	if strings.EqualFold(strings.TrimSpace(s), string(InputText)) {
		return InputText
	}
	return InputForm
}

// UserInput is the requirement a solution is generated for.
type UserInput struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Industry     string `json:"industry,omitempty"`
	Technology   string `json:"technology,omitempty"`
	Scenario     string `json:"scenario,omitempty"`
	Budget       string `json:"budget,omitempty"`
	Objectives   string `json:"objectives,omitempty"`
	Requirements string `json:"requirements,omitempty"`
	Timeline     string `json:"timeline,omitempty"`
}

// Validate checks the fields required by the input method.
func (u *UserInput) Validate(method InputMethod) error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("title", u.Title)
	if method == InputText {
		check("description", u.Description)
	} else {
		check("industry", u.Industry)
		check("technology", u.Technology)
		check("objectives", u.Objectives)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
