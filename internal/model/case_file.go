package model

import "time"

type WorkflowTask struct {
	Text                  string     `json:"text"`
	Description           string     `json:"description,omitempty"`
	Location              string     `json:"location,omitempty"`
	DueDate               time.Time  `json:"dueDate"`
	EndDate               time.Time  `json:"endDate"`
	GoogleCalendarEventID string     `json:"googleCalendarEventId"`
	SourceCalendarID      string     `json:"sourceCalendarId"`
	RelatedCaseFileID     string     `json:"relatedCaseFileId"`
	StepID                string     `json:"stepId"`
	Priority              string     `json:"priority,omitempty"`
	Reminder              string     `json:"reminder,omitempty"`
	IsPrivate             bool       `json:"isPrivate"`
	Completed             bool       `json:"completed"`
	CreatedDate           time.Time  `json:"createdDate"`
	UpdatedAt             *time.Time `json:"updatedAt,omitempty"`
}

type WorkflowNote struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type WorkflowStep struct {
	Tasks     []WorkflowTask  `json:"tasks"`
	Notes     []WorkflowNote  `json:"notes"`
	Checklist map[string]bool `json:"checklist,omitempty"`
}

// Workflow maps a step id to that step's sub-state.
type Workflow map[string]WorkflowStep

// Clone returns a deep copy; callers mutate the copy, never a stored snapshot.
func (w Workflow) Clone() Workflow {
	if w == nil {
		return Workflow{}
	}
	out := make(Workflow, len(w))
	for id, step := range w {
		c := WorkflowStep{}
		if step.Tasks != nil {
			c.Tasks = make([]WorkflowTask, len(step.Tasks))
			for i, t := range step.Tasks {
				if t.UpdatedAt != nil {
					u := *t.UpdatedAt
					t.UpdatedAt = &u
				}
				c.Tasks[i] = t
			}
		}
		if step.Notes != nil {
			c.Notes = append([]WorkflowNote(nil), step.Notes...)
		}
		if step.Checklist != nil {
			c.Checklist = make(map[string]bool, len(step.Checklist))
			for k, v := range step.Checklist {
				c.Checklist[k] = v
			}
		}
		out[id] = c
	}
	return out
}

type CaseFile struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Client    string    `json:"client"`
	Agency    string    `json:"agency"`
	Workflow  Workflow  `json:"workflow"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c CaseFile) Summary() CaseFileSummary {
	return CaseFileSummary{ID: c.ID, Address: c.Address, Client: c.Client, Agency: c.Agency}
}

type CaseFileSummary struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Client  string `json:"client"`
	Agency  string `json:"agency"`
}
