package topic

import (
	"strings"
)

// Builder constructs and parses topics of the form {root}/{deviceID}/{kind}[/{sub}].
type Builder struct {
	root string
}

// NewBuilder creates a Builder for the given root namespace (e.g. "device").
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the first topic level.
func (b *Builder) Root() string {
	return b.root
}

// Build returns the topic for kind on a single device.
func (b *Builder) Build(kind, deviceID string) string {
	return b.root + "/" + deviceID + "/" + kind
}

// Wildcard returns the filter matching kind on every device.
// Result: {root}/+/{kind}
func (b *Builder) Wildcard(kind string) string {
	return b.Build(kind, Wildcard)
}

// Sub returns a topic one level below kind, e.g. {root}/{id}/command/{type}.
func (b *Builder) Sub(kind, deviceID, sub string) string {
	return b.Build(kind, deviceID) + "/" + sub
}

// Parse splits a topic produced by this builder into its device id and kind.
// Any levels after the kind are returned in sub.
func (b *Builder) Parse(topic string) (deviceID, kind, sub string, ok bool) {
	rest, found := strings.CutPrefix(topic, b.root+"/")
	if !found {
		return "", "", "", false
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		sub = parts[2]
	}
	return parts[0], parts[1], sub, true
}
