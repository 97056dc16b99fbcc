package registry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"trackq/internal/model"
	"trackq/internal/runstore"
)

const (
	ColSettingsFile      = "settings_file"
	ColVideo             = "video"
	ColDatetime          = "datetime"
	ColPart              = "part"
	ColStatus            = "status"
	ColSessionFolder     = "session_folder"
	ColTimestamp         = "timestamp"
	ColNotes             = "notes"
	ColKnowledgeTransfer = "knowledge_transfer"
)

var baseColumns = []string{
	ColSettingsFile,
	ColVideo,
	ColDatetime,
	ColPart,
	ColStatus,
	ColSessionFolder,
	ColTimestamp,
	ColNotes,
}

var (
	ErrRegistryMissing = errors.New("job registry not found")
	ErrKeyNotFound     = errors.New("job registry key not found")
)

// Candidate is a settings document proposed for registration.
type Candidate struct {
	SettingsFile string
	Video        string
	Datetime     string
	Part         string
}

// Outcome is the triple written back after each attempt. The three fields
// are only ever updated together.
type Outcome struct {
	Status        string
	Timestamp     string
	SessionFolder string
}

type SnapshotEntry struct {
	Key           string
	Status        string
	Timestamp     string
	SessionFolder string
}

type Snapshot []SnapshotEntry

// Registry is the in-memory copy of the job table. Every mutation is
// followed by a full rewrite of the backing file.
type Registry struct {
	path    string
	columns []string
	records []model.JobRecord
	extras  []map[string]string
	raw     []map[string]string
	notes   []noteRow
	index   map[string]int
}

// noteRow is a row without a settings_file, such as an operator's section
// comment. It is never a job and is written back verbatim before the record
// at position at.
type noteRow struct {
	at  int
	row []string
}

// trimmedColumns are compared without surrounding blanks but written back
// as found while their value is unchanged.
var trimmedColumns = []string{ColSettingsFile, ColStatus, ColKnowledgeTransfer}

func Create(path string) *Registry {
	return &Registry{
		path:    path,
		columns: slices.Clone(baseColumns),
		index:   map[string]int{},
	}
}

func Exists(path string) bool {
	return runstore.FileExists(path)
}

func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if runstore.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRegistryMissing, path)
		}
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	reg := Create(path)
	if len(rows) == 0 {
		return reg, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	if !slices.Contains(header, ColSettingsFile) {
		return nil, fmt.Errorf("parse registry %s: missing %q column", path, ColSettingsFile)
	}
	reg.columns = mergeColumns(header)

	for line, row := range rows[1:] {
		fields := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				fields[h] = row[i]
			}
		}
		rec := recordFromFields(fields)
		if rec.SettingsFile == "" {
			reg.notes = append(reg.notes, noteRow{at: len(reg.records), row: slices.Clone(row)})
			continue
		}
		if _, dup := reg.index[rec.SettingsFile]; dup {
			return nil, fmt.Errorf("parse registry %s: duplicate settings_file %q on row %d", path, rec.SettingsFile, line+2)
		}
		reg.index[rec.SettingsFile] = len(reg.records)
		reg.records = append(reg.records, rec)
		reg.extras = append(reg.extras, extraFields(fields))
		reg.raw = append(reg.raw, rawCells(fields))
	}
	return reg, nil
}

func (r *Registry) Path() string {
	return r.path
}

// Records returns a copy of the records in stored order.
func (r *Registry) Records() []model.JobRecord {
	return slices.Clone(r.records)
}

func (r *Registry) Len() int {
	return len(r.records)
}

func (r *Registry) Get(key string) (model.JobRecord, bool) {
	i, ok := r.index[strings.TrimSpace(key)]
	if !ok {
		return model.JobRecord{}, false
	}
	return r.records[i], true
}

// HasKnowledgeTransfer reports whether the optional knowledge_transfer
// column is part of the resource.
func (r *Registry) HasKnowledgeTransfer() bool {
	return slices.Contains(r.columns, ColKnowledgeTransfer)
}

// Eligible returns the keys of pending and failed records in stored order.
func (r *Registry) Eligible() []string {
	keys := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		if model.IsEligible(rec.Status) {
			keys = append(keys, rec.SettingsFile)
		}
	}
	return keys
}

func (r *Registry) Counts() map[string]int {
	counts := map[string]int{
		model.StatusPending: 0,
		model.StatusDone:    0,
		model.StatusFailed:  0,
		model.StatusSkip:    0,
	}
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts
}

// RegisterNew appends a pending record for each candidate whose key is not
// present yet and flushes once if anything was added.
func (r *Registry) RegisterNew(candidates []Candidate) (int, error) {
	added := 0
	for _, c := range candidates {
		key := strings.TrimSpace(c.SettingsFile)
		if key == "" {
			continue
		}
		if _, ok := r.index[key]; ok {
			continue
		}
		r.index[key] = len(r.records)
		r.records = append(r.records, model.JobRecord{
			SettingsFile: key,
			Video:        c.Video,
			Datetime:     c.Datetime,
			Part:         c.Part,
			Status:       model.StatusPending,
		})
		r.extras = append(r.extras, nil)
		r.raw = append(r.raw, nil)
		added++
	}
	if added == 0 && Exists(r.path) {
		return 0, nil
	}
	if err := r.flush(); err != nil {
		return added, err
	}
	return added, nil
}

// Update writes one record's outcome triple and rewrites the resource.
func (r *Registry) Update(key string, out Outcome) error {
	i, ok := r.index[strings.TrimSpace(key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if !model.IsPersistable(out.Status) {
		return fmt.Errorf("refusing to persist status %q for %s", out.Status, key)
	}
	r.records[i].Status = out.Status
	r.records[i].Timestamp = out.Timestamp
	r.records[i].SessionFolder = out.SessionFolder
	return r.flush()
}

func (r *Registry) Snapshot() Snapshot {
	snap := make(Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		snap = append(snap, SnapshotEntry{
			Key:           rec.SettingsFile,
			Status:        rec.Status,
			Timestamp:     rec.Timestamp,
			SessionFolder: rec.SessionFolder,
		})
	}
	return snap
}

// Restore puts every snapshotted triple back verbatim, including values such
// as skip that Update refuses to write, then rewrites the resource.
func (r *Registry) Restore(snap Snapshot) error {
	for _, e := range snap {
		i, ok := r.index[e.Key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, e.Key)
		}
		r.records[i].Status = e.Status
		r.records[i].Timestamp = e.Timestamp
		r.records[i].SessionFolder = e.SessionFolder
	}
	return r.flush()
}

func (r *Registry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(r.columns); err != nil {
		return nil, err
	}
	next := 0
	writeNotes := func(upTo int) error {
		for ; next < len(r.notes) && r.notes[next].at <= upTo; next++ {
			if err := w.Write(r.notes[next].row); err != nil {
				return err
			}
		}
		return nil
	}
	for i, rec := range r.records {
		if err := writeNotes(i); err != nil {
			return nil, err
		}
		fields := recordFields(rec)
		row := make([]string, len(r.columns))
		for c, col := range r.columns {
			if v, ok := fields[col]; ok {
				if cell, kept := r.raw[i][col]; kept && strings.TrimSpace(cell) == v {
					v = cell
				}
				row[c] = v
				continue
			}
			if r.extras[i] != nil {
				row[c] = r.extras[i][col]
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	if err := writeNotes(len(r.records)); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Registry) flush() error {
	data, err := r.Encode()
	if err != nil {
		return fmt.Errorf("encode registry %s: %w", r.path, err)
	}
	return runstore.WriteBytes(r.path, data)
}

// mergeColumns keeps the file's column order and appends any base column
// the file was missing.
func mergeColumns(header []string) []string {
	cols := make([]string, 0, len(header)+len(baseColumns))
	for _, h := range header {
		if h == "" || slices.Contains(cols, h) {
			continue
		}
		cols = append(cols, h)
	}
	for _, b := range baseColumns {
		if !slices.Contains(cols, b) {
			cols = append(cols, b)
		}
	}
	return cols
}

func recordFromFields(f map[string]string) model.JobRecord {
	return model.JobRecord{
		SettingsFile:      strings.TrimSpace(f[ColSettingsFile]),
		Video:             f[ColVideo],
		Datetime:          f[ColDatetime],
		Part:              f[ColPart],
		Status:            strings.TrimSpace(f[ColStatus]),
		SessionFolder:     f[ColSessionFolder],
		Timestamp:         f[ColTimestamp],
		Notes:             f[ColNotes],
		KnowledgeTransfer: strings.TrimSpace(f[ColKnowledgeTransfer]),
	}
}

func recordFields(rec model.JobRecord) map[string]string {
	return map[string]string{
		ColSettingsFile:      rec.SettingsFile,
		ColVideo:             rec.Video,
		ColDatetime:          rec.Datetime,
		ColPart:              rec.Part,
		ColStatus:            rec.Status,
		ColSessionFolder:     rec.SessionFolder,
		ColTimestamp:         rec.Timestamp,
		ColNotes:             rec.Notes,
		ColKnowledgeTransfer: rec.KnowledgeTransfer,
	}
}

func rawCells(f map[string]string) map[string]string {
	var out map[string]string
	for _, col := range trimmedColumns {
		v, ok := f[col]
		if !ok || v == strings.TrimSpace(v) {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[col] = v
	}
	return out
}

func extraFields(f map[string]string) map[string]string {
	var out map[string]string
	for k, v := range f {
		if slices.Contains(baseColumns, k) || k == ColKnowledgeTransfer {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[k] = v
	}
	return out
}
