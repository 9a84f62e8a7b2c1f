package types

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}
