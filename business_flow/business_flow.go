// Package businessflow contains the business logic for the application.
package businessflow

import "context"

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds client-related information for audit logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// TxRunner executes fn inside a storage transaction. Production wires this to
// repository.WithTransaction; tests substitute a passthrough.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// PassthroughTx runs fn directly without opening a transaction.
func PassthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
