package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucidbard/canvas-author/internal/models"
)

// ItemPolicy specifies what a single item type needs before it can merge.
type ItemPolicy struct {
	RequiredPasses    []string `yaml:"required_passes"`
	RequiredApprovals int      `yaml:"required_approvals"`
}

// WorkflowPolicy maps item types to their review requirements. It is
// read-only configuration consumed by the consensus evaluator; the
// engine never mutates it.
type WorkflowPolicy struct {
	ItemTypes map[string]ItemPolicy `yaml:",inline"`
}

// Default returns the built-in workflow requirements used when a course
// has no .canvas.workflow.yaml.
func Default() *WorkflowPolicy {
	return &WorkflowPolicy{
		ItemTypes: map[string]ItemPolicy{
			"pages": {
				RequiredPasses:    []string{"style", "fact_check", "consistency"},
				RequiredApprovals: 1,
			},
			"quizzes": {
				RequiredPasses:    []string{"style", "fact_check", "consistency"},
				RequiredApprovals: 2,
			},
			"assignments": {
				RequiredPasses:    []string{"fact_check", "consistency", "style"},
				RequiredApprovals: 2,
			},
			"rubrics": {
				RequiredPasses:    []string{"consistency", "style"},
				RequiredApprovals: 1,
			},
		},
	}
}

// Load reads a workflow policy from a YAML file. A missing file is not
// an error; the defaults apply.
func Load(path string) (*WorkflowPolicy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow policy: %w", err)
	}

	var itemTypes map[string]ItemPolicy
	if err := yaml.Unmarshal(data, &itemTypes); err != nil {
		return nil, fmt.Errorf("parse workflow policy %s: %w", path, err)
	}
	if len(itemTypes) == 0 {
		return Default(), nil
	}
	return &WorkflowPolicy{ItemTypes: itemTypes}, nil
}

// ForItemType returns the policy for an item type, or false when the
// type is not governed by this workflow.
func (w *WorkflowPolicy) ForItemType(itemType string) (ItemPolicy, bool) {
	p, ok := w.ItemTypes[itemType]
	return p, ok
}

// RecognizesPassKind reports whether kind is a valid pass kind for the
// given item type. human_override is always recognized since escalation
// resolution applies to every type.
func (w *WorkflowPolicy) RecognizesPassKind(itemType, kind string) bool {
	if kind == models.PassKindHumanOverride {
		return true
	}
	p, ok := w.ItemTypes[itemType]
	if !ok {
		return false
	}
	for _, k := range p.RequiredPasses {
		if k == kind {
			return true
		}
	}
	return false
}
