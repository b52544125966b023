package store

import "time"

// Outcome of a recorded resolution.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeFailed   Outcome = "failed"
)

// Origin records where a type definition came from.
type Origin string

const (
	OriginModel Origin = "model"
	OriginIndex Origin = "index"
)

// TypeRecord is a persisted type definition.
type TypeRecord struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Super      string `json:"super,omitempty"`
	Interfaces string `json:"interfaces,omitempty"` // comma separated
	Enclosing  string `json:"enclosing,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Origin     Origin `json:"origin"`
}

// MethodRecord is a persisted method declaration.
type MethodRecord struct {
	ID       int64  `json:"id"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Sig      string `json:"sig"`
	Static   bool   `json:"static"`
	Private  bool   `json:"private"`
	Abstract bool   `json:"abstract"`
	Strategy string `json:"strategy,omitempty"`
}

// Implementation is one generated method and its call site.
type Implementation struct {
	SiteID    string    `json:"site_id"`
	Impl      string    `json:"impl"`
	Interface string    `json:"interface"`
	Method    string    `json:"method"`
	Sig       string    `json:"sig"`
	Strategy  string    `json:"strategy"`
	Source    string    `json:"source,omitempty"`
	ExtraArgs string    `json:"extra_args,omitempty"`
	Caller    string    `json:"caller,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolution is one traced resolver run.
type Resolution struct {
	ID       int64         `json:"id"`
	SiteID   string        `json:"site_id,omitempty"`
	Method   string        `json:"method"`
	Receiver string        `json:"receiver"`
	ArgTypes string        `json:"arg_types,omitempty"`
	Kind     string        `json:"kind"`
	Mode     string        `json:"mode"`
	Selected string        `json:"selected,omitempty"`
	Attempts int           `json:"attempts"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	At       time.Time     `json:"at"`
}

// ResolutionFilter narrows ListResolutions. Zero values match everything.
type ResolutionFilter struct {
	SiteID  string
	Outcome Outcome
	Limit   int
}
