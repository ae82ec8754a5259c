// Package incident records operator-facing reports when the audit log's
// hash chain fails verification: one JSON file per event under a
// well-known directory, holding the offending record id, expected vs.
// actual hash, and the shard/window that was being verified. Files survive
// independently of whatever store backs the audit log itself.
package incident

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirName is the directory incident reports are written under, relative
// to a caller-supplied base directory.
const DirName = ".ironseal/incidents"

// Report describes one detected audit-chain tamper event.
type Report struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity"` // critical, high, medium, low
	Title       string    `json:"title"`
	Description string    `json:"description"`

	Shard          int    `json:"shard"`
	OffendingID    string `json:"offending_record_id"`
	ExpectedHash   string `json:"expected_hash,omitempty"`
	ActualHash     string `json:"actual_hash,omitempty"`
	WindowFrom     time.Time `json:"window_from"`
	WindowTo       time.Time `json:"window_to"`

	Status     string     `json:"status"` // open, investigating, resolved
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Manager persists Reports as one JSON file per incident under baseDir.
type Manager struct {
	dir string
}

// NewManager roots a Manager at baseDir (DirName is appended).
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = "."
	}
	return &Manager{dir: filepath.Join(baseDir, DirName)}
}

// ReportChainBreak records a new open incident describing an audit-log
// hash-chain verification failure.
func (m *Manager) ReportChainBreak(shard int, offendingID, expectedHash, actualHash string, windowFrom, windowTo time.Time) (*Report, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, fmt.Errorf("incident: creating directory: %w", err)
	}

	report := &Report{
		ID:           generateID(),
		Timestamp:    time.Now().UTC(),
		Severity:     "critical",
		Title:        "audit log hash-chain verification failed",
		Description:  fmt.Sprintf("record %s did not match its expected hash during chain verification", offendingID),
		Shard:        shard,
		OffendingID:  offendingID,
		ExpectedHash: expectedHash,
		ActualHash:   actualHash,
		WindowFrom:   windowFrom.UTC(),
		WindowTo:     windowTo.UTC(),
		Status:       "open",
	}

	if err := m.save(report); err != nil {
		return nil, err
	}
	return report, nil
}

func (m *Manager) save(report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("incident: marshaling report: %w", err)
	}
	path := filepath.Join(m.dir, report.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("incident: writing report: %w", err)
	}
	return nil
}

// Load reads a previously written report by id.
func (m *Manager) Load(id string) (*Report, error) {
	path := filepath.Join(m.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("incident: report not found: %s", id)
		}
		return nil, fmt.Errorf("incident: reading report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("incident: parsing report: %w", err)
	}
	return &report, nil
}

// List returns every report recorded under the manager's directory.
func (m *Manager) List() ([]*Report, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("incident: reading directory: %w", err)
	}
	var reports []*Report
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		report, err := m.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Resolve marks a report resolved.
func (m *Manager) Resolve(report *Report) error {
	now := time.Now().UTC()
	report.Status = "resolved"
	report.ResolvedAt = &now
	return m.save(report)
}

func generateID() string {
	return fmt.Sprintf("INC-%s-%d", time.Now().UTC().Format("20060102"), time.Now().UnixNano()%1_000_000)
}
