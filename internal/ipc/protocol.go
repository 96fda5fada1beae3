package ipc

import (
	"encoding/json"
	"fmt"
)

// Request is one line of the wire protocol: a tagged sum value (spec.md
// §4.10, §6).
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the matching tagged reply.
type Response struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request type tags (spec.md §6 message catalog).
const (
	TypePing               = "Ping"
	TypeShutdown           = "Shutdown"
	TypeCapture            = "Capture"
	TypeSearch             = "Search"
	TypeTimeline           = "Timeline"
	TypeIndexConversations = "IndexConversations"
	TypeDoctorInfo         = "DoctorInfo"
	TypeSummarizeExchanges = "SummarizeExchanges"
	TypeMaintenance        = "Maintenance"
	TypeBlameByFingerprint = "BlameByFingerprint"
	TypeCorrelateEvidence  = "CorrelateEvidence"
	TypeMetrics            = "Metrics"
)

// Response type tags.
const (
	TypeOk              = "Ok"
	TypeError           = "Error"
	TypePong            = "Pong"
	TypeSearchResults   = "SearchResults"
	TypeEvents          = "Events"
	TypeDoctor          = "Doctor"
	TypeIndexStats      = "IndexStats"
	TypeSummarizeStats  = "SummarizeStats"
	TypeMaintenanceResp = "MaintenanceStats"
	TypeBlameResult     = "BlameResult"
	TypeBlameNotFound   = "BlameNotFound"
	TypeEvidenceResult  = "EvidenceResult"
	TypeMetricsSnapshot = "MetricsSnapshot"
)

func ok() Response {
	return Response{Type: TypeOk}
}

func errResponse(format string, args ...any) Response {
	msg := fmt.Sprintf(format, args...)
	data, _ := json.Marshal(msg)
	return Response{Type: TypeError, Payload: data}
}

func dataResponse(typ string, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse("marshal %s response: %v", typ, err)
	}
	return Response{Type: typ, Payload: data}
}

// PongPayload is the Ping reply body.
type PongPayload struct {
	UptimeSecs  int64 `json:"uptime_secs"`
	EventsCount int64 `json:"events_count"`
}

// SearchPayload is the Search request body.
type SearchPayload struct {
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
	SourceFilter string `json:"source_filter,omitempty"`
	Since        string `json:"since,omitempty"`
	Project      string `json:"project,omitempty"`
}

// TimelinePayload is the Timeline request body.
type TimelinePayload struct {
	Since      string `json:"since,omitempty"`
	FileFilter string `json:"file_filter,omitempty"`
	Limit      int    `json:"limit"`
}

// SummarizePayload is the SummarizeExchanges request body.
type SummarizePayload struct {
	Limit int `json:"limit"`
}

// MaintenancePayload is the Maintenance request body.
type MaintenancePayload struct {
	RetentionDays int `json:"retention_days"`
}

// CaptureEventPayload is the Capture request body (spec.md §6's CaptureEvent
// contract).
type CaptureEventPayload struct {
	ToolName     string `json:"tool_name"`
	FilePath     string `json:"file_path,omitempty"`
	Operation    string `json:"operation"`
	DiffSummary  string `json:"diff_summary,omitempty"`
	RawInput     string `json:"raw_input,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
	GitCommitSHA string `json:"git_commit_sha,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// BlamePayload is the BlameByFingerprint request body.
type BlamePayload struct {
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
	Context    string `json:"context,omitempty"`
	Mode       string `json:"mode"`
}

// CorrelatePayload is the CorrelateEvidence request body.
type CorrelatePayload struct {
	PRID      string   `json:"pr_id"`
	Commits   []string `json:"commits"`
	Branch    string   `json:"branch,omitempty"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Intent    string   `json:"intent,omitempty"`
}
