// Package schema supplies, per form type, the field definitions the UI
// renders and the id↔external-id key map the persistence layer needs to read
// form data written under either key form.
package schema

import (
	"fmt"

	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/common"
)

// FieldType classifies a form field.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldNumber    FieldType = "number"
	FieldCheckbox  FieldType = "checkbox"
	FieldTextarea  FieldType = "textarea"
	FieldSelect    FieldType = "select"
	FieldFile      FieldType = "file"
	FieldSignature FieldType = "signature"
)

// IsFileTyped reports whether values of this field are file references.
func (t FieldType) IsFileTyped() bool {
	return t == FieldFile || t == FieldSignature
}

// Field is one form question.
type Field struct {
	ID         string
	ExternalID string // stable backend identifier; may be empty
	Label      string
	Type       FieldType
	Required   bool
	Options    []string
}

// Key returns the storage key for this field: the external identifier when
// present, the internal field id otherwise.
func (f Field) Key() string {
	if f.ExternalID != "" {
		return f.ExternalID
	}
	return f.ID
}

// Section groups fields under a heading.
type Section struct {
	Title  string
	Fields []Field
}

// Schema is one complete inspection form.
type Schema struct {
	FormName string
	FormType models.FormType
	Sections []Section
}

// Fields returns every field in section order.
func (s *Schema) Fields() []Field {
	var fields []Field
	for _, sec := range s.Sections {
		fields = append(fields, sec.Fields...)
	}
	return fields
}

// KeyMap resolves between internal field ids and storage keys, accepting
// both forms when reading persisted form data.
type KeyMap struct {
	byFieldID map[string]Field
	byKey     map[string]Field
}

// KeyMap builds the resolver for this schema.
func (s *Schema) KeyMap() *KeyMap {
	m := &KeyMap{
		byFieldID: make(map[string]Field),
		byKey:     make(map[string]Field),
	}
	for _, f := range s.Fields() {
		m.byFieldID[f.ID] = f
		m.byKey[f.Key()] = f
	}
	return m
}

// Resolve returns the field behind a form-data key, accepting either the
// external identifier or the internal field id.
func (m *KeyMap) Resolve(key string) (Field, bool) {
	if f, ok := m.byKey[key]; ok {
		return f, true
	}
	f, ok := m.byFieldID[key]
	return f, ok
}

// Normalize rewrites form data so every entry sits under its canonical key.
// Entries for unknown keys are kept as-is rather than dropped.
func (m *KeyMap) Normalize(data models.FormData) models.FormData {
	if data == nil {
		return nil
	}
	out := make(models.FormData, len(data))
	for key, value := range data {
		if f, ok := m.Resolve(key); ok {
			out[f.Key()] = value
			continue
		}
		out[key] = value
	}
	return out
}

// FileFieldKeys returns the canonical keys of every file-typed field, so
// callers never have to guess file-ness from value shape alone.
func (s *Schema) FileFieldKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, f := range s.Fields() {
		if f.Type.IsFileTyped() {
			keys[f.Key()] = true
		}
	}
	return keys
}

// Provider supplies the schema for a form type.
type Provider interface {
	SchemaFor(t models.FormType) (*Schema, error)
}

type builtinProvider struct {
	schemas map[models.FormType]*Schema
}

// BuiltIn returns the provider with the bundled electrical and HVAC
// checklists.
func BuiltIn() Provider {
	return &builtinProvider{schemas: map[models.FormType]*Schema{
		models.FormTypeElectrical: electricalSchema,
		models.FormTypeHVAC:       hvacSchema,
	}}
}

func (p *builtinProvider) SchemaFor(t models.FormType) (*Schema, error) {
	s, ok := p.schemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: no schema for form type %q", common.ErrNotFound, t)
	}
	return s, nil
}

var electricalSchema = &Schema{
	FormName: "Electrical Inspection Checklist",
	FormType: models.FormTypeElectrical,
	Sections: []Section{
		{
			Title: "Panel",
			Fields: []Field{
				{ID: "panel_location", ExternalID: "EL-PANEL-LOC", Label: "Panel location", Type: FieldText, Required: true},
				{ID: "panel_rating", ExternalID: "EL-PANEL-AMP", Label: "Panel rating (A)", Type: FieldNumber, Required: true},
				{ID: "breakers_labeled", ExternalID: "EL-BRK-LBL", Label: "Breakers labeled", Type: FieldCheckbox},
				{ID: "panel_photo", ExternalID: "EL-PANEL-PHOTO", Label: "Panel photo", Type: FieldFile},
			},
		},
		{
			Title: "Wiring",
			Fields: []Field{
				{ID: "wiring_condition", ExternalID: "EL-WIRE-COND", Label: "Wiring condition", Type: FieldSelect,
					Options: []string{"good", "worn", "damaged"}},
				{ID: "wiring_notes", Label: "Notes", Type: FieldTextarea},
				{ID: "defect_photos", ExternalID: "EL-DEFECT-PHOTOS", Label: "Defect photos", Type: FieldFile},
			},
		},
		{
			Title: "Sign-off",
			Fields: []Field{
				{ID: "inspector_signature", ExternalID: "EL-SIGN", Label: "Inspector signature", Type: FieldSignature, Required: true},
			},
		},
	},
}

var hvacSchema = &Schema{
	FormName: "HVAC Inspection Checklist",
	FormType: models.FormTypeHVAC,
	Sections: []Section{
		{
			Title: "Unit",
			Fields: []Field{
				{ID: "unit_model", ExternalID: "HV-UNIT-MODEL", Label: "Unit model", Type: FieldText, Required: true},
				{ID: "unit_serial", ExternalID: "HV-UNIT-SERIAL", Label: "Serial number", Type: FieldText, Required: true},
				{ID: "refrigerant_type", ExternalID: "HV-REFRIG", Label: "Refrigerant type", Type: FieldSelect,
					Options: []string{"R-410A", "R-32", "R-22"}},
				{ID: "unit_photo", ExternalID: "HV-UNIT-PHOTO", Label: "Unit photo", Type: FieldFile},
			},
		},
		{
			Title: "Operation",
			Fields: []Field{
				{ID: "supply_temp", ExternalID: "HV-SUPPLY-TEMP", Label: "Supply air temp (°F)", Type: FieldNumber},
				{ID: "return_temp", ExternalID: "HV-RETURN-TEMP", Label: "Return air temp (°F)", Type: FieldNumber},
				{ID: "filters_replaced", ExternalID: "HV-FILTERS", Label: "Filters replaced", Type: FieldCheckbox},
				{ID: "operation_notes", Label: "Notes", Type: FieldTextarea},
			},
		},
		{
			Title: "Sign-off",
			Fields: []Field{
				{ID: "inspector_signature", ExternalID: "HV-SIGN", Label: "Inspector signature", Type: FieldSignature, Required: true},
			},
		},
	},
}
