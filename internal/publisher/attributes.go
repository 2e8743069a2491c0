// Package publisher holds helpers shared by the publisher implementations.
package publisher

// Attributer is implemented by payloads that carry message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// AttributesOf returns a copy of the payload's attributes, or an empty map.
func AttributesOf(payload any) map[string]string {
	out := map[string]string{}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.Attributes() {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}
