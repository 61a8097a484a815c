package types

// ListSentinel is the first element of every encoded choice list cell.
const ListSentinel = "L"

// Record is one row of a document table, keyed by column id. It always carries "id".
type Record map[string]interface{}

// ID returns the row id of the record, or 0 when it has none.
func (r Record) ID() int64 {
	id, _ := AsInt64(r["id"])
	return id
}

// Project returns the fields of r restricted to columns. The "id" column is never copied.
func (r Record) Project(columns []string) map[string]interface{} {
	fields := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		if col == "id" {
			continue
		}
		if v, ok := r[col]; ok {
			fields[col] = v
		}
	}
	return fields
}

// TableData is a column-oriented table snapshot. Every column array has the same length,
// including the "id" column.
type TableData map[string][]interface{}

// Len returns the number of rows in the snapshot.
func (t TableData) Len() int {
	return len(t["id"])
}

// Row materializes row i as a Record.
func (t TableData) Row(i int) Record {
	rec := make(Record, len(t))
	for col, values := range t {
		if i < len(values) {
			rec[col] = values[i]
		}
	}
	return rec
}

// ColumnMapping tells the engine which record columns hold the workflow fields.
type ColumnMapping struct {
	Process   string   `json:"process" yaml:"process" mapstructure:"process"`
	Status    string   `json:"status" yaml:"status" mapstructure:"status"`
	Error     string   `json:"error" yaml:"error" mapstructure:"error"`
	Duplicate []string `json:"duplicate" yaml:"duplicate" mapstructure:"duplicate"`
}

// Complete reports whether the required columns are mapped.
func (m ColumnMapping) Complete() bool {
	return m.Process != "" && m.Status != "" && m.Error != ""
}

// ActionDef is one row of the actions table.
type ActionDef struct {
	ID            int64                  `json:"id"`
	Label         string                 `json:"label"`
	Processes     []string               `json:"processes"`
	StartStatus   string                 `json:"start_status,omitempty"` // empty matches any status
	EndStatus     string                 `json:"end_status,omitempty"`
	PredicateName string                 `json:"isactive,omitempty"`
	HandlerName   string                 `json:"onclick"`
	Color         string                 `json:"color,omitempty"`
	Description   string                 `json:"desc,omitempty"`
	SortKey       float64                `json:"manualSort"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// HasProcess reports whether process is one of the action processes.
func (a ActionDef) HasProcess(process string) bool {
	for _, p := range a.Processes {
		if p == process {
			return true
		}
	}
	return false
}

// ModuleDef is one row of the handler modules table.
type ModuleDef struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Source string `json:"js"`
	Active bool   `json:"active"`
}

// Button is the renderable view of an applicable action.
type Button struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Message is a user facing line of text: a record error, a load failure or an alert.
type Message struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}
