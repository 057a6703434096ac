package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/vmkeep/internal/backup"
	"github.com/jbweber/vmkeep/internal/disk"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatReport formats a run report as a JSON object.
func (f *JSONFormatter) FormatReport(report *backup.RunReport) (string, error) {
	return marshalJSON(NewReportView(report), "report")
}

// FormatDisks formats a VM's disks as a JSON object.
func (f *JSONFormatter) FormatDisks(disks DiskList) (string, error) {
	if disks.Disks == nil {
		disks.Disks = []disk.Descriptor{}
	}
	return marshalJSON(disks, "disks")
}

// FormatRotation formats a rotation result as a JSON object.
func (f *JSONFormatter) FormatRotation(rotation RotationView) (string, error) {
	if rotation.Deleted == nil {
		rotation.Deleted = []string{}
	}
	return marshalJSON(rotation, "rotation")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
