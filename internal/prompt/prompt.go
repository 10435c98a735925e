// Package prompt renders the per-stage prompt templates sent to the LLM.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type Stage string

const (
	StageIntent     Stage = "intent"
	StageCorrection Stage = "correction"
	StageSQL        Stage = "sql"
	StageRepair     Stage = "repair"
)

var stages = []Stage{StageIntent, StageCorrection, StageSQL, StageRepair}

type IntentVars struct {
	Question string
	Schema   string
}

type CorrectionVars struct {
	Question string
	Intent   string
}

type SQLVars struct {
	Question string
	Intent   string
	Schema   string
	Samples  string
	Examples string
}

type RepairVars struct {
	SQL     string
	Schema  string
	Problem string
	Intent  string
}

// Rendered is one stage prompt ready to send. Temperature is nil when the
// stage uses the client default.
type Rendered struct {
	Stage       Stage
	System      string
	User        string
	Temperature *float64
}

type Set struct {
	stages   map[Stage]stageTemplate
	examples map[string]map[string]*template.Template
}

type stageTemplate struct {
	system      *template.Template
	user        *template.Template
	temperature *float64
}

type fileStage struct {
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	Temperature *float64 `yaml:"temperature"`
}

type file struct {
	Intent     fileStage                    `yaml:"intent"`
	Correction fileStage                    `yaml:"correction"`
	SQL        fileStage                    `yaml:"sql"`
	Repair     fileStage                    `yaml:"repair"`
	Examples   map[string]map[string]string `yaml:"examples"`
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return Parse(defaultPrompts)
}

func Parse(raw []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	byStage := map[Stage]fileStage{
		StageIntent:     f.Intent,
		StageCorrection: f.Correction,
		StageSQL:        f.SQL,
		StageRepair:     f.Repair,
	}

	set := &Set{
		stages:   make(map[Stage]stageTemplate, len(stages)),
		examples: map[string]map[string]*template.Template{},
	}
	for _, stage := range stages {
		def := byStage[stage]
		if strings.TrimSpace(def.System) == "" || strings.TrimSpace(def.User) == "" {
			return nil, fmt.Errorf("prompt %q requires system and user templates", stage)
		}
		system, err := parseTemplate(string(stage)+".system", def.System)
		if err != nil {
			return nil, err
		}
		user, err := parseTemplate(string(stage)+".user", def.User)
		if err != nil {
			return nil, err
		}
		set.stages[stage] = stageTemplate{system: system, user: user, temperature: def.Temperature}
	}

	for language, entries := range f.Examples {
		parsed := make(map[string]*template.Template, len(entries))
		for name, body := range entries {
			tmpl, err := parseTemplate("examples."+language+"."+name, body)
			if err != nil {
				return nil, err
			}
			parsed[name] = tmpl
		}
		set.examples[strings.ToLower(language)] = parsed
	}
	if _, ok := set.examples[defaultLanguage]; !ok {
		return nil, fmt.Errorf("prompt examples for %q are required", defaultLanguage)
	}
	return set, nil
}

func (s *Set) Render(stage Stage, vars any) (Rendered, error) {
	tmpl, ok := s.stages[stage]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown prompt stage %q", stage)
	}
	system, err := execute(tmpl.system, vars)
	if err != nil {
		return Rendered{}, err
	}
	user, err := execute(tmpl.user, vars)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Stage:       stage,
		System:      system,
		User:        user,
		Temperature: tmpl.temperature,
	}, nil
}

func parseTemplate(name, body string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, vars any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}
