package dbase

// Record is one decoded row. Values are in field descriptor order and there is
// exactly one per field.
type Record struct {
	index   int
	deleted bool
	schema  *schema
	values  []Value
	errs    []error
}

// Index returns the 0-based physical position of the record in the table.
func (r *Record) Index() int { return r.index }

// Deleted reports whether the record carries the deletion flag.
func (r *Record) Deleted() bool { return r.deleted }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.values) }

// Field returns the descriptor of the i-th field.
func (r *Record) Field(i int) FieldDescriptor { return r.schema.fields[i] }

// Value returns the i-th value.
func (r *Record) Value(i int) Value { return r.values[i] }

// Values returns the values in field order.
func (r *Record) Values() []Value { return r.values }

// Get looks up a value by field name, exactly first and then ignoring case.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.schema.lookup(name)
	if !ok {
		return Value{}, false
	}
	return r.values[i], true
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	names := make([]string, len(r.schema.fields))
	for i, f := range r.schema.fields {
		names[i] = f.Name
	}
	return names
}

// Errors returns the field errors collected under the MarkInvalid policy.
func (r *Record) Errors() []error { return r.errs }
