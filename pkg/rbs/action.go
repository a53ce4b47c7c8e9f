package rbs

import (
	"fmt"
	"strings"
)

// KindGet is the action kind served by the public, body-less GET endpoint.
// Every other kind is a POST to the user endpoint.
const KindGet = "get"

// ActionName is a parsed "namespace.service.kind.NAME" identifier.
type ActionName struct {
	Namespace string
	Service   string
	Kind      string
	Name      string
}

// ParseActionName splits an action identifier. It needs exactly four
// non-empty dot-separated segments; case is preserved.
func ParseActionName(action string) (ActionName, error) {
	parts := strings.Split(action, ".")
	if len(parts) != 4 {
		return ActionName{}, &ConfigurationError{
			Field:  "action",
			Reason: fmt.Sprintf("%q must have four dot-separated segments", action),
		}
	}
	for _, p := range parts {
		if p == "" {
			return ActionName{}, &ConfigurationError{
				Field:  "action",
				Reason: fmt.Sprintf("%q has an empty segment", action),
			}
		}
	}
	return ActionName{Namespace: parts[0], Service: parts[1], Kind: parts[2], Name: parts[3]}, nil
}

func (a ActionName) String() string {
	return a.Namespace + "." + a.Service + "." + a.Kind + "." + a.Name
}

// IsGet reports whether the action uses the public GET route.
func (a ActionName) IsGet() bool { return a.Kind == KindGet }

// ActionRequest is one action invocation.
type ActionRequest struct {
	Action  string
	Payload map[string]any

	// Headers are added to the HTTP request. SDK headers take precedence.
	Headers map[string]string

	// Culture overrides Config.Culture for this request.
	Culture string
}
