package mcp

// ServerVersion is advertised in the initialize response's serverInfo.
const ServerVersion = "0.1.0"
