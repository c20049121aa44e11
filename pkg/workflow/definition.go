// Package workflow turns state machine definitions into graphs of compute
// nodes and runs state machines at fixed memory sizes.
package workflow

import (
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"
)

const lambdaInvokeIntegration = "arn:aws:states:::lambda:invoke"

// Definition is a state machine document, or one branch of a Parallel state.
type Definition struct {
	Comment string           `json:"Comment,omitempty"`
	StartAt string           `json:"StartAt"`
	States  map[string]State `json:"States"`
}

type State struct {
	Type       string                 `json:"Type"`
	Resource   string                 `json:"Resource,omitempty"`
	Next       string                 `json:"Next,omitempty"`
	End        bool                   `json:"End,omitempty"`
	Branches   []Definition           `json:"Branches,omitempty"`
	Parameters map[string]interface{} `json:"Parameters,omitempty"`
}

// ParseDefinition decodes a definition written in JSON or YAML.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if def.StartAt == "" {
		return nil, fmt.Errorf("workflow definition has no StartAt")
	}
	if len(def.States) == 0 {
		return nil, fmt.Errorf("workflow definition has no States")
	}
	return &def, nil
}

// FunctionID returns the compute function a state invokes, or "" when the
// state does not invoke one. Service integrations name the function in
// their parameters.
func (s State) FunctionID() string {
	if s.Type != "Task" {
		return ""
	}
	if strings.HasPrefix(s.Resource, lambdaInvokeIntegration) {
		name, _ := s.Parameters["FunctionName"].(string)
		return name
	}
	if strings.Contains(s.Resource, ":lambda:") && strings.Contains(s.Resource, ":function:") {
		return s.Resource
	}
	return ""
}
