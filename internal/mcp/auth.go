package mcp

import "encoding/base64"

// Header names used for credential injection.
const (
	HeaderAuthorization = "Authorization"
	HeaderClientID      = "Client-Id"
)

// AuthHeaders builds the header set sent with every request to the MCP
// server: HTTP basic auth with the API key as the user name and an empty
// password, plus the client identifier in its own header. Both headers
// are always present; empty credentials are sent as empty values so the
// server, not the bridge, decides whether they are acceptable.
func AuthHeaders(clientID, apiKey string) map[string]string {
	return map[string]string{
		HeaderAuthorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey+":")),
		HeaderClientID:      clientID,
	}
}
