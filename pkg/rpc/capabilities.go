package rpc

// ServerCapabilities advertises what the server supports during the
// initialize handshake. Absent sections mean the capability is unsupported.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Logging   *LoggingCapability   `json:"logging,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type LoggingCapability struct{}

// DefaultReadOnlyCapabilities is the profile for read-only clients.
func DefaultReadOnlyCapabilities() ServerCapabilities {
	return ServerCapabilities{
		Tools:     &ToolsCapability{ListChanged: true},
		Resources: &ResourcesCapability{Subscribe: true, ListChanged: true},
		Prompts:   &PromptsCapability{ListChanged: true},
		Logging:   &LoggingCapability{},
	}
}

// DefaultAdminCapabilities is the profile for admin clients. Structurally
// identical to the read-only profile today; kept separate so the two can
// diverge without touching callers.
func DefaultAdminCapabilities() ServerCapabilities {
	return DefaultReadOnlyCapabilities()
}
