package store

import "fmt"

// Broker key namespacing mirrors the teacher's internal/cache/keys.go
// convention of "{prefix}:{kind}:{id}" segments.
const keyPrefix = "msghub"

func workspaceKey(name string) string {
	return fmt.Sprintf("%s:workspace:%s", keyPrefix, name)
}

func workspaceIndexPattern() string {
	return fmt.Sprintf("%s:workspace:*", keyPrefix)
}

func clientKey(workspace, clientID string) string {
	return fmt.Sprintf("%s:client:%s:%s", keyPrefix, workspace, clientID)
}

func clientIndexPattern(workspace string) string {
	return fmt.Sprintf("%s:client:%s:*", keyPrefix, workspace)
}

func serviceKey(workspace, clientID, serviceID string) string {
	return fmt.Sprintf("%s:service:%s:%s:%s", keyPrefix, workspace, clientID, serviceID)
}

func serviceIndexPattern(workspace string) string {
	return fmt.Sprintf("%s:service:%s:*", keyPrefix, workspace)
}
