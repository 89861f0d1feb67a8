package scan

import (
	"strings"

	"github.com/L1nMay/vulnorch/internal/logger"
)

// Built-in Greenbone port lists.
const (
	portListAllIANA    = "33d0cd82-57c6-11e1-8ed1-406186ea4fc5"
	portListTopNmap    = "730ef368-57e2-11e1-a90f-406186ea4fc5"
	portListAllTCPNmap = "fd591a34-56fd-11e1-9f27-406186ea4fc5"
)

func resolvePortList(portList string) string {
	p := strings.TrimSpace(strings.ToLower(portList))

	switch p {
	case "", "auto":
		return portListAllIANA
	case "top":
		logger.Debugf("Top ports mode enabled")
		return portListTopNmap
	case "full":
		logger.Debugf("Full TCP port list enabled")
		return portListAllTCPNmap
	}

	return strings.TrimSpace(portList)
}
