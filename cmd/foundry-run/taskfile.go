package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/seantiz/foundry/internal/model"
)

// taskFile is the YAML document foundry-run executes.
type taskFile struct {
	ProjectID string       `yaml:"project_id"`
	Mode      string       `yaml:"mode"`
	Isolation string       `yaml:"isolation_level"`
	Workspace string       `yaml:"workspace"`
	Branch    string       `yaml:"branch"`
	Tasks     []model.Task `yaml:"tasks"`
}

func loadTaskFile(path string) (*taskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	var tf taskFile
	if err := yaml.UnmarshalStrict(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(tf.Tasks))
	for i := range tf.Tasks {
		task := &tf.Tasks[i]
		if task.ID == "" {
			task.ID = fmt.Sprintf("task-%d", i+1)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("task file %s: duplicate task id %q", path, task.ID)
		}
		seen[task.ID] = true
		if strings.TrimSpace(task.Description) == "" {
			return nil, fmt.Errorf("task file %s: task %q has no description", path, task.ID)
		}
	}
	return &tf, nil
}
