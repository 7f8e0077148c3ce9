package models

import "strings"

// SingleInstanceFlag, present in ServiceConfig.Flags, causes a newly
// registered service to supersede any prior registration with the same
// name in the same workspace (SPEC_FULL.md §3).
const SingleInstanceFlag = "single-instance"

// ServiceConfig carries the visibility and context requirements of a
// Service, plus the workspace it was registered into.
type ServiceConfig struct {
	Visibility     Visibility `json:"visibility"`
	RequireContext bool       `json:"require_context"`
	Workspace      string     `json:"workspace"`
	Flags          []string   `json:"flags,omitempty"`
}

// IsSingleton reports whether cfg carries the single-instance flag.
func (cfg *ServiceConfig) IsSingleton() bool {
	for _, f := range cfg.Flags {
		if f == SingleInstanceFlag {
			return true
		}
	}
	return false
}

// Service is a named handler registered by a client and addressable by
// other clients. ItsID is colon-suffixed and scoped to the owning
// client, e.g. "workspace/client:service-name".
type Service struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Config ServiceConfig `json:"config"`
}

// ClientID extracts the owning client id from a "workspace/client:name"
// service id. Returns "" if ID is not in the expected shape.
func (s *Service) ClientID() string {
	_, rest, ok := strings.Cut(s.ID, "/")
	if !ok {
		return ""
	}
	client, _, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	return client
}
