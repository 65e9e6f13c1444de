package amqpio

/*
Table is a dynamic map of AMQP field-table values, used for server
properties, consume arguments and message headers.

Table stores user supplied fields of the following types:

	bool
	int8
	int16
	int32
	int64
	int
	float32
	float64
	nil
	string
	time.Time
	Table / map[string]any
	[]byte
	[]any - containing above types

Operations taking a table fail immediately when the table contains a value
of an unsupported type.

The caller must be specific in which precision of integer it wishes to
encode; RabbitMQ expects int32 for plain integer values.
*/
type Table map[string]any

func NewTable() Table {
	return make(Table)
}

// Clone returns a shallow copy with room for extra additional entries.
func (t Table) Clone(extra int) Table {
	m := make(Table, len(t)+extra)
	for k, v := range t {
		m[k] = v
	}
	return m
}

// With returns a copy of the table with one key replaced.
func (t Table) With(key string, value any) Table {
	m := t.Clone(1)
	m[key] = value
	return m
}
