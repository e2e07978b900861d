package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Trigger paths served by the daemon. Matching is by prefix.
const (
	PathSnapshot = "/snapshot"
	PathRun      = "/run"
	PathUpload   = "/upload"
	PathDelete   = "/delete"
	PathStatus   = "/api/status"
)

// Acknowledgement bodies returned by the background trigger paths.
const (
	AckRun    = "Running daily snapshot / upload in background.\n"
	AckUpload = "Running daily upload in background.\n"
	AckDelete = "Running daily maintenance (delete) in background.\n"
)

// HistoryEvent describes one recorded capture, upload, or delete.
type HistoryEvent struct {
	ID         int64  `json:"id"`
	RunID      string `json:"runId,omitempty"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	DurationMs int64  `json:"durationMs"`
	At         string `json:"at,omitempty"`
}

// HistorySummary aggregates events of one kind.
type HistorySummary struct {
	Kind      string `json:"kind"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
	LastAt    string `json:"lastAt,omitempty"`
}

// GuardStatus reports who holds the upload/retention guard.
type GuardStatus struct {
	Held  bool   `json:"held"`
	Owner string `json:"owner,omitempty"`
	Since string `json:"since,omitempty"`
}

// ScheduleEntry maps one clock event to a handler.
type ScheduleEntry struct {
	Event   string `json:"event"`
	Handler string `json:"handler"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is one labelled row of status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running         bool               `json:"running"`
	PID             int                `json:"pid"`
	StartedAt       string             `json:"startedAt,omitempty"`
	LockFilePath    string             `json:"lockFilePath"`
	HistoryDBPath   string             `json:"historyDbPath"`
	StagingDir      string             `json:"stagingDir"`
	Remote          string             `json:"remote"`
	PendingUploads  int                `json:"pendingUploads"`
	RetentionDays   int                `json:"retentionDays"`
	Guard           GuardStatus        `json:"guard"`
	Schedule        []ScheduleEntry    `json:"schedule"`
	Summaries       []HistorySummary   `json:"summaries"`
	Recent          []HistoryEvent     `json:"recent"`
	Dependencies    []DependencyStatus `json:"dependencies"`
	WatchingStaging bool               `json:"watchingStaging"`
}
