package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trackq/internal/model"
	"trackq/internal/runstore"
)

const (
	DefaultLogName        = "idtrackerai.log"
	DefaultSuccessMarker  = "Success"
	DefaultCriticalMarker = "CRITICAL"
)

type Verdict string

const (
	VerdictSuccess    Verdict = "success"
	VerdictCritical   Verdict = "critical"
	VerdictIncomplete Verdict = "incomplete"
)

const (
	ReasonUnresolved      = "unresolved_session"
	ReasonMissingLog      = "missing_log"
	ReasonCriticalMarker  = "critical_marker"
	ReasonNoSuccessMarker = "no_success_marker"
)

// Classifier decides a job outcome from the tracker log inside a session
// directory. Zero-value fields fall back to the defaults above.
type Classifier struct {
	LogName        string
	SuccessMarker  string
	CriticalMarker string
}

type Result struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	LogPath string `json:"log_path,omitempty"`
}

// ClassifyText classifies log text with the default markers.
func ClassifyText(text string) Verdict {
	return Classifier{}.ClassifyText(text)
}

// ClassifyText inspects log text. A critical marker anywhere wins over a
// success marker.
func (c Classifier) ClassifyText(text string) Verdict {
	if strings.Contains(text, c.criticalMarker()) {
		return VerdictCritical
	}
	if strings.Contains(text, c.successMarker()) {
		return VerdictSuccess
	}
	return VerdictIncomplete
}

// Classify maps a session directory to done or failed. An empty sessionDir
// means the session could not be resolved.
func (c Classifier) Classify(sessionDir string) Result {
	if strings.TrimSpace(sessionDir) == "" {
		return Result{Status: model.StatusFailed, Reason: ReasonUnresolved}
	}
	logPath := c.LogPath(sessionDir)
	data, err := os.ReadFile(logPath)
	if err != nil {
		return Result{Status: model.StatusFailed, Reason: ReasonMissingLog, LogPath: logPath}
	}
	switch c.ClassifyText(string(data)) {
	case VerdictCritical:
		return Result{Status: model.StatusFailed, Reason: ReasonCriticalMarker, LogPath: logPath}
	case VerdictSuccess:
		return Result{Status: model.StatusDone, LogPath: logPath}
	default:
		return Result{Status: model.StatusFailed, Reason: ReasonNoSuccessMarker, LogPath: logPath}
	}
}

func (c Classifier) LogPath(sessionDir string) string {
	return filepath.Join(sessionDir, c.LogFileName())
}

func (c Classifier) LogFileName() string {
	return c.logName()
}

// HasLog reports whether the session directory already holds the tracker log.
func (c Classifier) HasLog(sessionDir string) bool {
	return sessionDir != "" && runstore.FileExists(c.LogPath(sessionDir))
}

func (r Result) String() string {
	if r.Reason == "" {
		return r.Status
	}
	return fmt.Sprintf("%s (%s)", r.Status, r.Reason)
}

func (c Classifier) logName() string {
	if v := strings.TrimSpace(c.LogName); v != "" {
		return v
	}
	return DefaultLogName
}

func (c Classifier) successMarker() string {
	if c.SuccessMarker != "" {
		return c.SuccessMarker
	}
	return DefaultSuccessMarker
}

func (c Classifier) criticalMarker() string {
	if c.CriticalMarker != "" {
		return c.CriticalMarker
	}
	return DefaultCriticalMarker
}
