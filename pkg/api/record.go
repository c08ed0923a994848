package api

import (
	"fmt"
	"regexp"
)

// Record maps one browser container (cookie store) to its proxy. The JSON
// field names match the extension's persisted layout.
type Record struct {
	ContainerID string          `json:"cookieStoreId"`
	Proxy       ProxyDescriptor `json:"proxy"`
}

// maxContainerIDLength bounds container ids accepted at the edges.
const maxContainerIDLength = 256

var containerIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]+$`)

// ValidateContainerID checks whether id is usable as a container id in
// URLs and tool arguments. Browser ids look like "firefox-default" or
// "firefox-container-3".
func ValidateContainerID(id string) error {
	if id == "" {
		return fmt.Errorf("container id is required")
	}
	if len(id) > maxContainerIDLength {
		return fmt.Errorf("container id exceeds %d characters", maxContainerIDLength)
	}
	if !containerIDPattern.MatchString(id) {
		return fmt.Errorf("container id %q contains invalid characters", id)
	}
	return nil
}
