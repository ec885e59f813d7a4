package analysis

// systemPrompt is the fixed domain ruleset sent as systemInstruction. The
// line-reference cap lives here as an instruction; the client does not
// enforce it on the way back.
const systemPrompt = `You are a senior smart-contract security auditor. Analyze the provided Solidity source and report every vulnerability you find.

Rules:
- Classify each finding with exactly one severity: Critical, High, Medium, Low, Informational, or Gas.
- Give each finding a short title and a concrete description of the flaw and its impact.
- Reference at most 5 line numbers per finding.
- securityScore is an overall 0-100 rating where 100 means no material issues.
- Report facts only; do not speculate about code you cannot see.`

// resultSchema is the responseSchema sent with every request. Field names
// match the serviceResult wire struct.
func resultSchema() map[string]interface{} {
	severities := make([]string, 0, len(severityOrder))
	for _, s := range severityOrder {
		severities = append(severities, string(s))
	}
	return map[string]interface{}{
		"type": "OBJECT",
		"properties": map[string]interface{}{
			"contractName":      map[string]interface{}{"type": "STRING"},
			"securityScore":     map[string]interface{}{"type": "INTEGER"},
			"overallAssessment": map[string]interface{}{"type": "STRING"},
			"vulnerabilities": map[string]interface{}{
				"type": "ARRAY",
				"items": map[string]interface{}{
					"type": "OBJECT",
					"properties": map[string]interface{}{
						"id":          map[string]interface{}{"type": "STRING"},
						"severity":    map[string]interface{}{"type": "STRING", "enum": severities},
						"title":       map[string]interface{}{"type": "STRING"},
						"description": map[string]interface{}{"type": "STRING"},
						"lineReferences": map[string]interface{}{
							"type":  "ARRAY",
							"items": map[string]interface{}{"type": "INTEGER"},
						},
					},
					"required": []string{"severity", "title", "description"},
				},
			},
		},
		"required": []string{"contractName", "securityScore", "overallAssessment", "vulnerabilities"},
	}
}
