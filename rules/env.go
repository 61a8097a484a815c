package rules

import "github.com/emanuelegissi/flowbuttons/types"

// NewEnv builds the environment predicates and guards run against.
//
//	record   the record in view, by column id
//	action   the action row: label, processes, start_status, end_status, color, desc, plus extra columns
//	process  record[mapping.Process] as text
//	status   record[mapping.Status] as text
//	error    record[mapping.Error]
func NewEnv(action types.ActionDef, record types.Record, mapping types.ColumnMapping) map[string]interface{} {
	rec := make(map[string]interface{}, len(record))
	for k, v := range record {
		rec[k] = v
	}

	act := make(map[string]interface{}, len(action.Extra)+8)
	for k, v := range action.Extra {
		act[k] = v
	}
	act["id"] = action.ID
	act["label"] = action.Label
	act["processes"] = action.Processes
	act["start_status"] = action.StartStatus
	act["end_status"] = action.EndStatus
	act["color"] = action.Color
	act["desc"] = action.Description

	env := map[string]interface{}{
		"record": rec,
		"action": act,
	}
	if mapping.Process != "" {
		env["process"] = types.AsString(record[mapping.Process])
	}
	if mapping.Status != "" {
		env["status"] = types.AsString(record[mapping.Status])
	}
	if mapping.Error != "" {
		env["error"] = record[mapping.Error]
	}
	return env
}
