// Package noop provides a publisher that discards notifications, for
// deployments without a message broker.
package noop

import "context"

// Publisher drops every message.
type Publisher struct{}

// New returns a no-op Publisher.
func New() Publisher { return Publisher{} }

// Publish discards the payload.
func (Publisher) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
