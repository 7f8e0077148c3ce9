package workspace

import "fmt"

const keyPrefix = "msghub"

func workspaceKey(name string) string {
	return fmt.Sprintf("%s:workspace:%s", keyPrefix, name)
}

func serviceKey(workspace, clientID, serviceID string) string {
	return fmt.Sprintf("%s:service:%s:%s:%s", keyPrefix, workspace, clientID, serviceID)
}

func serviceIndexPattern(workspace string) string {
	return fmt.Sprintf("%s:service:%s:*", keyPrefix, workspace)
}

// allServicesPattern matches every registered service across every
// workspace, used to scan for public services owned elsewhere.
func allServicesPattern() string {
	return fmt.Sprintf("%s:service:*", keyPrefix)
}
