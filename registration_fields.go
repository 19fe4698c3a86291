package community

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// FieldType is the kind of input an event registration field collects.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
)

const (
	defaultTextMaxLength     = 255
	defaultTextareaMaxLength = 5000
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// FieldSpec describes one custom field an organizer attached to an event.
type FieldSpec struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Options   []string  `json:"options,omitempty"`
	MaxLength int       `json:"maxLength,omitempty"`
}

// Validate will run validation rules
func (f FieldSpec) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required, validation.Match(fieldNamePattern)),
		validation.Field(&f.Type, validation.Required, validation.In(
			FieldText, FieldEmail, FieldPhone, FieldTextarea, FieldSelect, FieldCheckbox, FieldRadio,
		)),
		validation.Field(&f.Options, validation.By(f.requireOptions), validation.By(uniqueOptions)),
		validation.Field(&f.MaxLength, validation.Min(0)),
	)
}

func (f FieldSpec) maxLength() int {
	if f.MaxLength > 0 {
		return f.MaxLength
	}
	if f.Type == FieldTextarea {
		return defaultTextareaMaxLength
	}
	return defaultTextMaxLength
}

func (f FieldSpec) options() []any {
	out := make([]any, len(f.Options))
	for i, o := range f.Options {
		out[i] = o
	}
	return out
}

func (f FieldSpec) requireOptions(value any) error {
	opts, _ := value.([]string)
	if (f.Type == FieldSelect || f.Type == FieldRadio) && len(opts) == 0 {
		return errors.New("cannot be blank")
	}
	return nil
}

func uniqueOptions(value any) error {
	opts, _ := value.([]string)
	seen := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		if strings.TrimSpace(o) == "" {
			return errors.New("options must not be blank")
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("duplicate option %q", o)
		}
		seen[o] = struct{}{}
	}
	return nil
}

// FieldValue is the value submitted for a field. The concrete type must match
// the field type: TextValue for text, email, phone and textarea, ChoiceValue
// for select and radio, CheckboxValue for checkbox.
type FieldValue interface {
	accepts(t FieldType) bool
	isZero() bool
}

// TextValue holds free text input.
type TextValue string

func (v TextValue) accepts(t FieldType) bool {
	switch t {
	case FieldText, FieldEmail, FieldPhone, FieldTextarea:
		return true
	}
	return false
}

func (v TextValue) isZero() bool { return strings.TrimSpace(string(v)) == "" }

// ChoiceValue holds a single selected option.
type ChoiceValue string

func (v ChoiceValue) accepts(t FieldType) bool { return t == FieldSelect || t == FieldRadio }
func (v ChoiceValue) isZero() bool             { return v == "" }

// CheckboxValue is a toggle when the field has no options, or the set of
// ticked options otherwise.
type CheckboxValue struct {
	Checked  bool
	Selected []string
}

func (v CheckboxValue) accepts(t FieldType) bool { return t == FieldCheckbox }
func (v CheckboxValue) isZero() bool             { return !v.Checked && len(v.Selected) == 0 }

// FieldValues maps field names to submitted values.
type FieldValues map[string]FieldValue

// RegistrationSchema validates and encodes registration field values for an event.
type RegistrationSchema struct {
	Fields      []FieldSpec
	PhoneRegion string
}

// NewRegistrationSchema builds the schema for an event's fields.
func NewRegistrationSchema(fields []FieldSpec, phoneRegion string) RegistrationSchema {
	return RegistrationSchema{Fields: fields, PhoneRegion: strings.ToUpper(phoneRegion)}
}

// Validate checks values against the schema. Unknown fields are rejected.
func (s RegistrationSchema) Validate(values FieldValues) error {
	_, err := s.normalize(values)
	return err
}

// Encode validates values and returns the wire payload for POST /events/:id/register.
// Phone numbers are normalized to E.164.
func (s RegistrationSchema) Encode(values FieldValues) (RegistrationData, error) {
	fields, err := s.normalize(values)
	if err != nil {
		return RegistrationData{}, err
	}
	return RegistrationData{Fields: fields}, nil
}

func (s RegistrationSchema) normalize(values FieldValues) (map[string]any, error) {
	errs := validation.Errors{}
	out := map[string]any{}
	known := make(map[string]struct{}, len(s.Fields))

	for _, spec := range s.Fields {
		if err := spec.Validate(); err != nil {
			errs[spec.Name] = fmt.Errorf("invalid field definition: %w", err)
			continue
		}
		known[spec.Name] = struct{}{}

		value, ok := values[spec.Name]
		if !ok || value == nil || value.isZero() {
			if spec.Required {
				errs[spec.Name] = errors.New("cannot be blank")
			}
			continue
		}

		if !value.accepts(spec.Type) {
			errs[spec.Name] = fmt.Errorf("unexpected value for a %s field", spec.Type)
			continue
		}

		encoded, err := s.encodeValue(spec, value)
		if err != nil {
			errs[spec.Name] = err
			continue
		}
		out[spec.Name] = encoded
	}

	for name := range values {
		if _, ok := known[name]; !ok {
			if _, defined := errs[name]; !defined {
				errs[name] = errors.New("unknown field")
			}
		}
	}

	if len(errs) > 0 {
		return nil, validationError(errs, "invalid registration fields")
	}
	return out, nil
}

func (s RegistrationSchema) encodeValue(spec FieldSpec, value FieldValue) (any, error) {
	switch v := value.(type) {
	case TextValue:
		text := strings.TrimSpace(string(v))
		if err := validation.Validate(text, validation.RuneLength(0, spec.maxLength())); err != nil {
			return nil, err
		}
		switch spec.Type {
		case FieldEmail:
			if err := validation.Validate(text, is.Email); err != nil {
				return nil, err
			}
			return normalizeEmail(text), nil
		case FieldPhone:
			return s.normalizePhone(text)
		}
		return text, nil

	case ChoiceValue:
		if err := validation.Validate(string(v), validation.In(spec.options()...)); err != nil {
			return nil, err
		}
		return string(v), nil

	case CheckboxValue:
		if len(spec.Options) == 0 {
			if len(v.Selected) > 0 {
				return nil, errors.New("field has no options to select")
			}
			return v.Checked, nil
		}
		selected := make([]string, 0, len(v.Selected))
		for _, opt := range v.Selected {
			if err := validation.Validate(opt, validation.In(spec.options()...)); err != nil {
				return nil, err
			}
			selected = append(selected, opt)
		}
		return selected, nil
	}
	return nil, errors.New("unsupported value")
}

func (s RegistrationSchema) normalizePhone(raw string) (string, error) {
	region := s.PhoneRegion
	if region == "" {
		region = DefaultConfig().PhoneRegion
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("must be a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// ParseFieldValue converts raw text input, as typed on a command line, into
// the value variant spec expects. Checkbox options are comma separated.
func ParseFieldValue(spec FieldSpec, raw string) (FieldValue, error) {
	raw = strings.TrimSpace(raw)
	switch spec.Type {
	case FieldSelect, FieldRadio:
		return ChoiceValue(raw), nil
	case FieldCheckbox:
		if len(spec.Options) == 0 {
			if raw == "" {
				return CheckboxValue{}, nil
			}
			checked, ok := parseYesNo(raw)
			if !ok {
				return nil, NewError(KindValidation, fmt.Sprintf("%s: expected yes/no value", spec.Name))
			}
			return CheckboxValue{Checked: checked}, nil
		}
		var selected []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				selected = append(selected, p)
			}
		}
		return CheckboxValue{Checked: len(selected) > 0, Selected: selected}, nil
	default:
		return TextValue(raw), nil
	}
}

func parseYesNo(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "y", "yes", "on":
		return true, true
	case "n", "no", "off":
		return false, true
	}
	checked, err := strconv.ParseBool(raw)
	return checked, err == nil
}
