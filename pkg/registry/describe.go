package registry

import "encoding/json"

// Description is the public view of a registered capability.
type Description struct {
	Name         string          `json:"name"`
	Mode         string          `json:"mode"`
	Description  string          `json:"description,omitempty"`
	ParamsSchema json.RawMessage `json:"paramsSchema,omitempty"`
}

// Describe lists every registered capability, sorted by name.
func (r *Registry) Describe() []Description {
	entries := r.List()
	out := make([]Description, 0, len(entries))
	for _, e := range entries {
		out = append(out, Description{
			Name:         e.Name,
			Mode:         e.Mode.String(),
			Description:  e.Description,
			ParamsSchema: e.ParamsSchema,
		})
	}
	return out
}
