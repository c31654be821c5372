// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package prompts renders the request text sent to providers.
package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// ShortPlanLimit bounds the plan excerpt of short, context-bounded prompts.
const ShortPlanLimit = 1500

// Input carries everything a prompt may reference. Unused fields are ignored.
type Input struct {
	Plan            string
	Events          string
	StalledFor      time.Duration
	Description     string
	PreviousSummary string
	NewEventCount   int
	Completed       int
	Pending         int
}

// Builder produces provider prompts.
type Builder interface {
	Intervention(in Input) (string, error)
	Escalation(in Input) (string, error)
	Analyze(in Input) (string, error)
	Replan(in Input) (string, error)
	Stuck(in Input) (string, error)
	Consolidation(in Input) (string, error)
}

// TemplateBuilder renders the built-in English templates.
type TemplateBuilder struct {
	tmpl *template.Template
}

var funcs = template.FuncMap{
	"clip": Clip,
	"seconds": func(d time.Duration) int {
		return int(d / time.Second)
	},
	"orNone": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "(none)"
		}
		return s
	},
}

const templates = `
{{define "intervention"}}You are the orchestrator. The worker appears to have been stuck for {{seconds .StalledFor}} seconds.

CURRENT PLAN:
{{clip .Plan 1500}}

RECENT EVENTS:
{{orNone .Events}}

TASK:
Give a SHORT, CONCRETE hint (max 100 words):
1. What could the problem be?
2. Which concrete next step helps?
{{end}}

{{define "escalation"}}You are the orchestrator. The worker has stalled REPEATEDLY. Time to re-plan.

CURRENT PLAN:
{{.Plan}}

RECENT EVENTS:
{{orNone .Events}}

ANALYSIS AND RE-PLAN:
1. Identify the core problem.
2. Which tasks should be skipped or simplified?
3. Is there an alternative approach?

Output a short analysis (3-5 lines), one concrete next step, and optionally a new task priority.
{{end}}

{{define "analyze"}}You are the strategic orchestrator. Analyze the current situation.

CURRENT PLAN:
{{clip .Plan 2000}}

TASK STATUS:
- Completed: {{.Completed}}
- Pending: {{.Pending}}

RECENT EVENTS:
{{orNone .Events}}

1. What has been achieved so far?
2. Are there problems or blockers?
3. Does the current prioritization still make sense?
4. Which next steps do you recommend?

Answer in a structured and precise way (max 300 words).
{{end}}

{{define "replan"}}You are the strategic orchestrator. The task list needs to be revised.

CURRENT PLAN:
{{.Plan}}

RECENT EVENTS:
{{orNone .Events}}

1. Mark tasks that are done with [x].
2. Add missing tasks.
3. Re-prioritize by dependency and importance.
4. Remove redundant or duplicate tasks.

Output the COMPLETE new plan. Start with "# Task List" and use "- [ ]" and "- [x]" checkboxes.
{{end}}

{{define "stuck"}}You are the strategic orchestrator. An agent is blocked.

PROBLEM:
{{.Description}}

CURRENT PLAN:
{{clip .Plan 1500}}

RECENT EVENTS:
{{orNone .Events}}

1. What is the likely cause?
2. Which alternative approaches exist?
3. Should the task order change?
4. Are prerequisites missing?

Give concrete, actionable recommendations.
{{end}}

{{define "consolidation"}}You consolidate memory for a multi-agent system.

PREVIOUS SUMMARY:
{{if .PreviousSummary}}{{.PreviousSummary}}{{else}}No previous summary.{{end}}

NEW EVENTS ({{.NewEventCount}}):
{{orNone .Events}}

1. Summarize the new events (max 150 words).
2. Identify important findings and decisions.
3. List open tasks.

FORMAT:
## Session Update
## Findings
## Open Tasks
{{end}}
`

// NewTemplateBuilder parses the built-in templates.
func NewTemplateBuilder() (*TemplateBuilder, error) {
	t, err := template.New("prompts").Funcs(funcs).Parse(templates)
	if err != nil {
		return nil, fmt.Errorf("prompts: %w", err)
	}
	return &TemplateBuilder{tmpl: t}, nil
}

// MustTemplateBuilder is NewTemplateBuilder that panics on error.
func MustTemplateBuilder() *TemplateBuilder {
	b, err := NewTemplateBuilder()
	if err != nil {
		panic(err)
	}
	return b
}

func (b *TemplateBuilder) render(name string, in Input) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, in); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func (b *TemplateBuilder) Intervention(in Input) (string, error) { return b.render("intervention", in) }
func (b *TemplateBuilder) Escalation(in Input) (string, error)   { return b.render("escalation", in) }
func (b *TemplateBuilder) Analyze(in Input) (string, error)      { return b.render("analyze", in) }
func (b *TemplateBuilder) Replan(in Input) (string, error)       { return b.render("replan", in) }
func (b *TemplateBuilder) Stuck(in Input) (string, error)        { return b.render("stuck", in) }
func (b *TemplateBuilder) Consolidation(in Input) (string, error) {
	return b.render("consolidation", in)
}

// Clip returns at most n runes of s.
func Clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
