package store

import "time"

// Backend identifies branch-scoped backend resources created for a VM or
// registered for a project.
type Backend struct {
	Provider string            `json:"provider,omitempty"`
	IDs      map[string]string `json:"ids,omitempty"`
	URL      string            `json:"url,omitempty"`
}

// ProjectRecord describes one registered project.
type ProjectRecord struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	Repo         string    `json:"repo,omitempty"`
	DeployTarget string    `json:"deploy_target,omitempty"`
	Backend      Backend   `json:"backend,omitempty"`
}

// SpikeStatus reports the background agent lifecycle on a VM.
type SpikeStatus string

const (
	SpikeStatusNone      SpikeStatus = ""
	SpikeStatusRunning   SpikeStatus = "running"
	SpikeStatusCompleted SpikeStatus = "completed"
	SpikeStatusFailed    SpikeStatus = "failed"
)

// Cost accumulates agent spend across spike iterations.
type Cost struct {
	TotalUSD     float64 `json:"total_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// Add returns the running total after one more spike iteration.
func (c Cost) Add(other Cost) Cost {
	return Cost{
		TotalUSD:     c.TotalUSD + other.TotalUSD,
		InputTokens:  c.InputTokens + other.InputTokens,
		OutputTokens: c.OutputTokens + other.OutputTokens,
	}
}

// VMRecord describes one provisioned VM. Created before any remote side
// effect so a crash mid-provision leaves a recoverable record.
type VMRecord struct {
	Name            string      `json:"name"`
	SSHHost         string      `json:"ssh_host"`
	Project         string      `json:"project"`
	Feature         string      `json:"feature"`
	CreatedAt       time.Time   `json:"created_at"`
	Branch          string      `json:"branch"`
	Backend         Backend     `json:"backend,omitempty"`
	SpikeStatus     SpikeStatus `json:"spike_status,omitempty"`
	SpikeIterations int         `json:"spike_iterations,omitempty"`
	OriginalPrompt  string      `json:"original_prompt,omitempty"`
	Cost            Cost        `json:"cost"`
	AgentSessionID  string      `json:"agent_session_id,omitempty"`
	ReviewURL       string      `json:"review_url,omitempty"`
}

// VMUpdate is a partial VMRecord mutation; nil fields are left untouched.
type VMUpdate struct {
	SpikeStatus     *SpikeStatus
	SpikeIterations *int
	OriginalPrompt  *string
	Cost            *Cost
	AgentSessionID  *string
	ReviewURL       *string
	Backend         *Backend
	Branch          *string
}

// ProjectUpdate is a partial ProjectRecord mutation; nil fields are left
// untouched.
type ProjectUpdate struct {
	Repo         *string
	DeployTarget *string
	Backend      *Backend
}
