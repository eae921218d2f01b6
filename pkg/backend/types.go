package backend

import (
	"time"
)

// ServiceSpec is the create/update payload for a backend service
type ServiceSpec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"` // empty = image default
	Env         map[string]string `json:"env,omitempty"`
	Ports       []PortSpec        `json:"ports,omitempty"`
	MainPort    int               `json:"main_port,omitempty"` // port the gateway routes to
	HealthCmd   []string          `json:"health_cmd,omitempty"`
	CPULimit    string            `json:"cpu_limit,omitempty"`
	MemoryLimit string            `json:"memory_limit,omitempty"`
	VolumeSize  string            `json:"volume_size,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// PortSpec defines one exposed port
type PortSpec struct {
	Container int    `json:"container"`
	Host      int    `json:"host,omitempty"`
	Protocol  string `json:"protocol,omitempty"` // "tcp" (default) or "udp"
}

// Service is the backend's record of a deployed service. State carries
// the backend-native string; the driver maps it to the canonical status.
type Service struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	State     string            `json:"state"`
	Replicas  int               `json:"replicas"`
	Endpoint  string            `json:"endpoint,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Route is a gateway routing rule from a public host/path to a service
// port.
type Route struct {
	ID         string `json:"id,omitempty"`
	ServiceID  string `json:"service_id"`
	Host       string `json:"host,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
	TargetPort int    `json:"target_port"`
}

// VersionInfo is the backend's identification handshake
type VersionInfo struct {
	Version      string   `json:"version"`
	APIVersion   string   `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// errorBody is the backend's JSON error envelope
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
