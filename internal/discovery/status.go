package discovery

import (
	"trackq/internal/model"
	"trackq/internal/registry"
)

type StatusResult struct {
	RegistryPath string            `json:"registry_path" yaml:"registry_path"`
	State        string            `json:"state" yaml:"state"`
	Totals       StatusTotals      `json:"totals" yaml:"totals"`
	Rows         []model.JobRecord `json:"jobs" yaml:"jobs"`
}

type StatusTotals struct {
	Total     int `json:"total" yaml:"total"`
	Pending   int `json:"pending" yaml:"pending"`
	Done      int `json:"done" yaml:"done"`
	Failed    int `json:"failed" yaml:"failed"`
	Skip      int `json:"skip" yaml:"skip"`
	Other     int `json:"other" yaml:"other"`
	Remaining int `json:"remaining" yaml:"remaining"`
}

func Status(registryPath string) (StatusResult, error) {
	reg, err := registry.Load(registryPath)
	if err != nil {
		return StatusResult{}, err
	}
	rows := reg.Records()
	totals := summarizeCounts(rows)
	return StatusResult{
		RegistryPath: registryPath,
		State:        summarizeState(totals),
		Totals:       totals,
		Rows:         rows,
	}, nil
}

func summarizeCounts(rows []model.JobRecord) StatusTotals {
	t := StatusTotals{Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case model.StatusPending:
			t.Pending++
		case model.StatusDone:
			t.Done++
		case model.StatusFailed:
			t.Failed++
		case model.StatusSkip:
			t.Skip++
		default:
			t.Other++
		}
	}
	t.Remaining = t.Pending + t.Failed
	return t
}

func summarizeState(t StatusTotals) string {
	switch {
	case t.Total == 0:
		return "empty"
	case t.Failed > 0:
		return "needs_retry"
	case t.Pending > 0:
		return "queued"
	default:
		return "complete"
	}
}
