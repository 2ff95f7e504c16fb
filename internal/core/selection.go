package core

import "sync"

// FieldSelection tracks which fields an operator has picked for a template.
// Mandatory fields are always selected and cannot be toggled off.
type FieldSelection struct {
	mu       sync.Mutex
	fields   []FieldInfo
	selected map[string]bool
}

// NewFieldSelection starts with the identity field and every mandatory
// field selected.
func NewFieldSelection(fields []FieldInfo) *FieldSelection {
	fs := &FieldSelection{
		fields:   fields,
		selected: make(map[string]bool, len(fields)),
	}
	for _, f := range fields {
		if f.Required || f.Fieldname == IdentityField {
			fs.selected[f.Fieldname] = true
		}
	}
	return fs
}

func (fs *FieldSelection) field(name string) (FieldInfo, bool) {
	for _, f := range fs.fields {
		if f.Fieldname == name {
			return f, true
		}
	}
	return FieldInfo{}, false
}

// Toggle flips fieldname. Unknown and mandatory fields are left as they are.
func (fs *FieldSelection) Toggle(fieldname string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.field(fieldname)
	if !ok || f.Required {
		return
	}
	if fs.selected[fieldname] {
		delete(fs.selected, fieldname)
	} else {
		fs.selected[fieldname] = true
	}
}

// SelectAll selects every field.
func (fs *FieldSelection) SelectAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range fs.fields {
		fs.selected[f.Fieldname] = true
	}
}

// UnselectAll clears the selection except for mandatory fields.
func (fs *FieldSelection) UnselectAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for name := range fs.selected {
		if f, ok := fs.field(name); !ok || !f.Required {
			delete(fs.selected, name)
		}
	}
}

// IsSelected reports whether fieldname is selected.
func (fs *FieldSelection) IsSelected(fieldname string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.selected[fieldname]
}

// Selected returns selected fieldnames in metadata order.
func (fs *FieldSelection) Selected() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.selected))
	for _, f := range fs.fields {
		if fs.selected[f.Fieldname] {
			out = append(out, f.Fieldname)
		}
	}
	return out
}
