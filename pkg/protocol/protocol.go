package protocol

import "time"

// Method names understood by the daemon.
const (
	MethodFileSaved = "file/saved"
	MethodFlush     = "flush"
	MethodStatus    = "status"
	MethodPing      = "ping"
	MethodShutdown  = "shutdown"
)

// Overrides carries per-event configuration overrides. A nil field means
// "use the daemon's configured value".
type Overrides struct {
	CtagsCmd        *string `json:"ctags_cmd,omitempty"`
	TagsFile        *string `json:"tags_file,omitempty"`
	TagsDir         *string `json:"tags_dir,omitempty"`
	StopAt          *string `json:"stop_at,omitempty"`
	ExcludeSuffixes *string `json:"exclude_suffixes,omitempty"`
}

type SaveParams struct {
	Path      string     `json:"path"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

type FlushResult struct {
	Drained int `json:"drained"`
}

type PingResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type CycleInfo struct {
	TagsFile   string    `json:"tags_file"`
	Sources    []string  `json:"sources"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

type StatusResult struct {
	UptimeSeconds int64       `json:"uptime_seconds"`
	TagsFilesSeen int         `json:"tags_files_seen"`
	RecentCycles  []CycleInfo `json:"recent_cycles,omitempty"`
}
