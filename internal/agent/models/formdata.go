package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind discriminates the shapes a form field value can take.
type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindText
	KindBool
	KindOptions
	KindFile
	KindFiles
)

// FormValue is one form field's value: plain text, a boolean, a list of
// selected options, a single file reference, or a list of file references.
// Its JSON form is the underlying shape, not a tagged wrapper, so payloads
// written by older builds unmarshal unchanged.
type FormValue struct {
	Kind    ValueKind
	Text    string
	Bool    bool
	Options []string
	File    *FileReference
	Files   []FileReference
}

// FormData maps a field key to its value. Keys are either the schema's
// external identifiers or, when a field has none, the internal field id;
// readers resolve both forms through the schema key map.
type FormData map[string]FormValue

func TextValue(s string) FormValue       { return FormValue{Kind: KindText, Text: s} }
func BoolValue(b bool) FormValue         { return FormValue{Kind: KindBool, Bool: b} }
func OptionsValue(o []string) FormValue  { return FormValue{Kind: KindOptions, Options: o} }
func FileValue(f FileReference) FormValue {
	return FormValue{Kind: KindFile, File: &f}
}
func FilesValue(fs []FileReference) FormValue {
	return FormValue{Kind: KindFiles, Files: fs}
}

// FileRefs returns every file reference embedded in the value, in order.
// Non-file values yield nil.
func (v FormValue) FileRefs() []FileReference {
	switch v.Kind {
	case KindFile:
		return []FileReference{*v.File}
	case KindFiles:
		return v.Files
	default:
		return nil
	}
}

// IsEmpty reports whether the value carries no user input. A boolean is
// never empty: false is a deliberate answer.
func (v FormValue) IsEmpty() bool {
	switch v.Kind {
	case KindEmpty:
		return true
	case KindText:
		return strings.TrimSpace(v.Text) == ""
	case KindBool:
		return false
	case KindOptions:
		return len(v.Options) == 0
	case KindFile:
		return strings.TrimSpace(v.File.ID) == ""
	case KindFiles:
		return len(v.Files) == 0
	default:
		return true
	}
}

// Serialize renders the value as the string the upload envelope carries:
// text as-is, booleans as "true"/"false", option lists comma-joined, and
// file references as their JSON metadata (never bytes).
func (v FormValue) Serialize() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindOptions:
		return strings.Join(v.Options, ",")
	case KindFile:
		b, _ := json.Marshal(v.File)
		return string(b)
	case KindFiles:
		b, _ := json.Marshal(v.Files)
		return string(b)
	default:
		return ""
	}
}

// MarshalJSON writes the underlying shape.
func (v FormValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindText:
		return json.Marshal(v.Text)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindOptions:
		return json.Marshal(v.Options)
	case KindFile:
		return json.Marshal(v.File)
	case KindFiles:
		return json.Marshal(v.Files)
	default:
		return nil, fmt.Errorf("unknown form value kind %d", v.Kind)
	}
}

// UnmarshalJSON accepts all five shapes: string, bool, array of strings,
// file-reference object, array of file-reference objects.
func (v *FormValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = FormValue{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	case '{':
		var f FileReference
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		if f.ID == "" && f.Name == "" {
			return fmt.Errorf("object form value is not a file reference: %s", trimmed)
		}
		*v = FileValue(f)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if len(raw) == 0 {
			*v = OptionsValue([]string{})
			return nil
		}
		if strings.HasPrefix(strings.TrimSpace(string(raw[0])), "{") {
			var fs []FileReference
			if err := json.Unmarshal(data, &fs); err != nil {
				return err
			}
			*v = FilesValue(fs)
			return nil
		}
		var opts []string
		if err := json.Unmarshal(data, &opts); err != nil {
			return err
		}
		*v = OptionsValue(opts)
		return nil
	default:
		return fmt.Errorf("unsupported form value: %s", trimmed)
	}
}

// FileRefs returns every file reference embedded anywhere in the form data.
func (d FormData) FileRefs() []FileReference {
	var refs []FileReference
	for _, v := range d {
		refs = append(refs, v.FileRefs()...)
	}
	return refs
}
