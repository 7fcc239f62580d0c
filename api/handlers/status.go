package handlers

import (
	"strings"

	"github.com/malbeclabs/askdata/pkg/gateway"
)

// ConfigStatus reports whether the service is configured, from the shape of its
// settings alone. Nothing is probed.
type ConfigStatus struct {
	Database      bool `json:"database"`
	ModelProvider bool `json:"modelProvider"`
	Ready         bool `json:"ready"`
}

func NewConfigStatus(databaseURL, apiKey string) ConfigStatus {
	s := ConfigStatus{}
	if strings.TrimSpace(databaseURL) != "" {
		_, err := gateway.ParseBackend(databaseURL)
		s.Database = err == nil
	}
	s.ModelProvider = strings.HasPrefix(strings.TrimSpace(apiKey), "sk-")
	s.Ready = s.Database && s.ModelProvider
	return s
}
