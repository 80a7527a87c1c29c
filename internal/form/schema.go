// Package form runs short-lived web forms that collect secrets from a human
// out of band and persist them through the secret store.
package form

import (
	"time"

	"github.com/google/uuid"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// Defaults applied to a Request.
const (
	DefaultExpiresIn      = 30 * time.Minute
	DefaultMaxSubmissions = 1
	DefaultSubmitLabel    = "Save"
	DefaultSuccessMessage = "Thanks, your secret was saved. You can close this page."
)

// Mode selects how the form is presented.
type Mode string

const (
	ModeRequesterPage Mode = "requester-page"
	ModeInlineWidget  Mode = "inline-widget"
)

// Field input types.
const (
	FieldPassword = "password"
	FieldURL      = "url"
	FieldTextarea = "textarea"
	FieldText     = "text"
	FieldSelect   = "select"
)

// Rules are optional per-field validation rules, checked in this order:
// required, MinLength, MaxLength, Pattern, Custom.
type Rules struct {
	MinLength int    `json:"minLength,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	// Custom names a validator registered with Manager.RegisterValidator.
	Custom string `json:"custom,omitempty"`
}

// Overrides replace derived field attributes. Applied last.
type Overrides struct {
	Label       string   `json:"label,omitempty"`
	Type        string   `json:"type,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty"`
	Required    *bool    `json:"required,omitempty"`
}

// SecretRequest describes one secret to collect.
type SecretRequest struct {
	Key         string           `json:"key"`
	Kind        types.SecretKind `json:"type,omitempty"`
	Label       string           `json:"label,omitempty"`
	Description string           `json:"description,omitempty"`
	Required    bool             `json:"required"`
	Rules       *Rules           `json:"validation,omitempty"`
	Overrides   *Overrides       `json:"overrides,omitempty"`
	// Config is merged into the stored metadata when the value is persisted.
	Config *types.ConfigPatch `json:"config,omitempty"`
}

// Request asks for a form collecting one or more secrets.
type Request struct {
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description,omitempty"`
	Secrets        []SecretRequest `json:"secrets"`
	Mode           Mode            `json:"mode,omitempty"`
	ExpiresIn      time.Duration   `json:"expiresIn,omitempty"`
	MaxSubmissions int             `json:"maxSubmissions,omitempty"`
	SubmitLabel    string          `json:"submitLabel,omitempty"`
	SuccessMessage string          `json:"successMessage,omitempty"`
}

// Field is one input of a rendered form.
type Field struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty"`
	Rules       *Rules   `json:"validation,omitempty"`
}

// Schema is the rendered description of a form.
type Schema struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Fields         []Field   `json:"fields"`
	SubmitLabel    string    `json:"submitLabel"`
	Mode           Mode      `json:"mode"`
	ExpiresAt      time.Time `json:"expiresAt"`
	MaxSubmissions int       `json:"maxSubmissions"`
	SuccessMessage string    `json:"successMessage"`
}

// withDefaults returns req with zero values replaced by defaults.
func withDefaults(req Request) Request {
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = DefaultExpiresIn
	}
	if req.MaxSubmissions <= 0 {
		req.MaxSubmissions = DefaultMaxSubmissions
	}
	if req.Mode == "" {
		req.Mode = ModeRequesterPage
	}
	if req.SubmitLabel == "" {
		req.SubmitLabel = DefaultSubmitLabel
	}
	if req.SuccessMessage == "" {
		req.SuccessMessage = DefaultSuccessMessage
	}
	if req.Title == "" {
		if len(req.Secrets) == 1 {
			req.Title = "Provide " + req.Secrets[0].Key
		} else {
			req.Title = "Provide secrets"
		}
	}
	return req
}

// BuildSchema derives a Schema from a defaulted request.
func BuildSchema(req Request, now time.Time) Schema {
	fields := make([]Field, 0, len(req.Secrets))
	for _, s := range req.Secrets {
		fields = append(fields, buildField(s))
	}
	return Schema{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Description:    req.Description,
		Fields:         fields,
		SubmitLabel:    req.SubmitLabel,
		Mode:           req.Mode,
		ExpiresAt:      now.Add(req.ExpiresIn),
		MaxSubmissions: req.MaxSubmissions,
		SuccessMessage: req.SuccessMessage,
	}
}

func buildField(s SecretRequest) Field {
	f := Field{
		Name:        s.Key,
		Label:       s.Label,
		Type:        fieldType(s.Kind),
		Required:    s.Required,
		Description: s.Description,
		Rules:       s.Rules,
	}
	if f.Label == "" {
		f.Label = s.Key
	}

	if o := s.Overrides; o != nil {
		if o.Label != "" {
			f.Label = o.Label
		}
		if o.Type != "" {
			f.Type = o.Type
		}
		if o.Placeholder != "" {
			f.Placeholder = o.Placeholder
		}
		if len(o.Options) > 0 {
			f.Options = o.Options
		}
		if o.Required != nil {
			f.Required = *o.Required
		}
	}
	return f
}

func fieldType(kind types.SecretKind) string {
	switch kind {
	case types.KindURL:
		return FieldURL
	case types.KindConfig:
		return FieldTextarea
	default:
		return FieldPassword
	}
}
