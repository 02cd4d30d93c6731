package runner

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// Iteration is one expansion of a parametrized or parallel stage.
type Iteration struct {
	// Key identifies the iteration in reports, e.g. "env=dev-fmt=json".
	Key string

	// Params are the iteration's variable bindings, layered on top of
	// the stage context.
	Params map[string]any
}

// expandParameters materializes the cartesian product of parameter blocks
// in block-major order: the first block varies slowest.
func expandParameters(blocks []model.Parameter) []Iteration {
	iterations := []Iteration{{Params: map[string]any{}}}

	for _, block := range blocks {
		rows := blockRows(block)
		next := make([]Iteration, 0, len(iterations)*len(rows))
		for _, base := range iterations {
			for _, row := range rows {
				params := make(map[string]any, len(base.Params)+len(row.params))
				for k, v := range base.Params {
					params[k] = v
				}
				for k, v := range row.params {
					params[k] = v
				}
				key := row.id
				if base.Key != "" {
					key = base.Key + "-" + row.id
				}
				next = append(next, Iteration{Key: key, Params: params})
			}
		}
		iterations = next
	}
	return iterations
}

type paramRow struct {
	id     string
	params map[string]any
}

func blockRows(block model.Parameter) []paramRow {
	switch block.Kind {
	case model.ParamIndividual:
		rows := make([]paramRow, len(block.Values))
		for i, value := range block.Values {
			id := fmt.Sprintf("%s=%s", block.Key, template.Stringify(value))
			if block.IDs != nil {
				id = block.IDs[i]
			}
			rows[i] = paramRow{id: id, params: map[string]any{block.Key: value}}
		}
		return rows
	default:
		rows := make([]paramRow, len(block.Rows))
		for i, row := range block.Rows {
			id := rowID(row)
			if block.IDs != nil {
				id = block.IDs[i]
			}
			rows[i] = paramRow{id: id, params: row.Values}
		}
		return rows
	}
}

func rowID(row model.Row) string {
	parts := make([]string, len(row.Keys))
	for i, k := range row.Keys {
		parts[i] = fmt.Sprintf("%s=%s", k, template.Stringify(row.Values[k]))
	}
	return strings.Join(parts, "-")
}
