package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/vmkeep/internal/backup"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatReport formats a run report as a YAML document.
func (f *YAMLFormatter) FormatReport(report *backup.RunReport) (string, error) {
	return marshalYAML(NewReportView(report), "report")
}

// FormatDisks formats a VM's disks as a YAML document.
func (f *YAMLFormatter) FormatDisks(disks DiskList) (string, error) {
	return marshalYAML(disks, "disks")
}

// FormatRotation formats a rotation result as a YAML document.
func (f *YAMLFormatter) FormatRotation(rotation RotationView) (string, error) {
	return marshalYAML(rotation, "rotation")
}

func marshalYAML(v any, what string) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}
	return string(data), nil
}
