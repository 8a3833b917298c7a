package scraper

// Schema renders a machine-readable JSON-schema description of the
// scraper's entry points, with model parameters collected under $defs.
func (s *Scraper) Schema() map[string]any {
	entries := make(map[string]any, len(s.Entries))
	defs := make(map[string]any)

	for _, name := range s.entryNames() {
		entry := s.Entries[name]

		properties := make(map[string]any, len(entry.Params))
		required := make([]string, 0, len(entry.Params))
		for _, paramName := range entry.paramNames() {
			param := entry.Params[paramName]
			required = append(required, paramName)
			switch param.Kind {
			case ParamModel:
				defs[param.Model.Name] = param.Model.JSONSchema()
				properties[paramName] = map[string]any{"$ref": "#/$defs/" + param.Model.Name}
			case ParamInt:
				properties[paramName] = map[string]any{"type": "integer"}
			case ParamDate:
				properties[paramName] = map[string]any{"type": "string", "format": "date"}
			default:
				properties[paramName] = map[string]any{"type": "string"}
			}
		}

		entrySchema := map[string]any{
			"returns":     entry.Returns,
			"speculative": entry.Speculation != nil,
			"parameters": map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		}
		if spec := entry.Speculation; spec != nil {
			entrySchema["highest_observed"] = spec.EffectiveHighestObserved()
			entrySchema["largest_observed_gap"] = spec.EffectiveLargestGap()
		}
		entries[name] = entrySchema
	}

	schema := map[string]any{
		"scraper": s.Name,
		"entries": entries,
	}
	if len(defs) > 0 {
		schema["$defs"] = defs
	}
	return schema
}
