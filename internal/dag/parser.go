package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/tidewater-io/cascade/pkg/models"
)

// Parser loads workflow definitions from YAML or JSON files. Definition
// files express edges as per-task upstream lists; the parser resolves the
// symmetric downstream side and validates the result.
type Parser struct{}

// NewParser creates a workflow definition parser
func NewParser() *Parser {
	return &Parser{}
}

type workflowFile struct {
	ID              string     `json:"id" yaml:"id"`
	Description     string     `json:"description" yaml:"description"`
	Type            string     `json:"type" yaml:"type"`
	Tags            []string   `json:"tags" yaml:"tags"`
	EmitsEvents     bool       `json:"emits_events" yaml:"emits_events"`
	ListensToEvents bool       `json:"listens_to_events" yaml:"listens_to_events"`
	EntityOutputs   []string   `json:"entity_outputs,omitempty" yaml:"entity_outputs,omitempty"`
	Tasks           []taskFile `json:"tasks" yaml:"tasks"`
}

type taskFile struct {
	ID          string         `json:"id" yaml:"id"`
	Type        string         `json:"type" yaml:"type"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Upstream    []string       `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Timeout     string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ParseYAMLFile parses a workflow definition from a YAML file
func (p *Parser) ParseYAMLFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseYAML(data)
}

// ParseYAML parses a workflow definition from YAML bytes
func (p *Parser) ParseYAML(data []byte) (*models.Workflow, error) {
	var wff workflowFile
	if err := yaml.Unmarshal(data, &wff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return p.convert(&wff)
}

// ParseJSON parses a workflow definition from JSON bytes
func (p *Parser) ParseJSON(data []byte) (*models.Workflow, error) {
	var wff workflowFile
	if err := json.Unmarshal(data, &wff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return p.convert(&wff)
}

// LoadDirectory parses every .yaml/.yml/.json file in dir and registers
// the definitions into the bag.
func (p *Parser) LoadDirectory(dir string, bag *Bag) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		var wf *models.Workflow
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			wf, err = p.ParseYAMLFile(path)
		case ".json":
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return loaded, fmt.Errorf("failed to read %s: %w", path, readErr)
			}
			wf, err = p.ParseJSON(data)
		default:
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := bag.Register(wf); err != nil {
			return loaded, fmt.Errorf("failed to register %s: %w", wf.ID, err)
		}
		loaded++
	}
	return loaded, nil
}

func (p *Parser) convert(wff *workflowFile) (*models.Workflow, error) {
	wf := &models.Workflow{
		ID:              wff.ID,
		Description:     wff.Description,
		Type:            models.WorkflowType(wff.Type),
		Tags:            wff.Tags,
		EmitsEvents:     wff.EmitsEvents,
		ListensToEvents: wff.ListensToEvents,
		EntityOutputs:   wff.EntityOutputs,
		Tasks:           make(map[string]*models.OperatorSpec, len(wff.Tasks)),
		CreatedAt:       time.Now().UTC(),
	}
	if wf.Type == "" {
		wf.Type = models.WorkflowTypeProcess
	}

	for _, tf := range wff.Tasks {
		if _, exists := wf.Tasks[tf.ID]; exists {
			return nil, fmt.Errorf("duplicate task id: %s", tf.ID)
		}
		spec := &models.OperatorSpec{
			TaskID:      tf.ID,
			Type:        tf.Type,
			Config:      tf.Config,
			UpstreamIDs: tf.Upstream,
			MaxAttempts: tf.MaxAttempts,
		}
		if tf.Timeout != "" {
			timeout, err := time.ParseDuration(tf.Timeout)
			if err != nil {
				return nil, fmt.Errorf("task %s has invalid timeout %q: %w", tf.ID, tf.Timeout, err)
			}
			spec.Timeout = timeout
		}
		wf.Tasks[tf.ID] = spec
	}

	// Resolve the downstream side of each declared upstream edge
	for _, spec := range wf.Tasks {
		for _, up := range spec.UpstreamIDs {
			upSpec, ok := wf.Tasks[up]
			if !ok {
				return nil, fmt.Errorf("task %s depends on unknown task: %s", spec.TaskID, up)
			}
			upSpec.DownstreamIDs = append(upSpec.DownstreamIDs, spec.TaskID)
		}
	}

	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}
