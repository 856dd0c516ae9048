// Package pathid provides identity for nodes in the asset build graph.
//
// A ResourcePathID names a source resource together with the ordered chain
// of transformations applied to it. Any node of the build graph - source or
// derived - is uniquely identified by such a path.
package pathid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for common failure cases.
var (
	ErrInvalidPath         = errors.New("invalid resource path")
	ErrInvalidResourceType = errors.New("invalid resource type")
)

// ResourceType names a resource data format, e.g. "psd" or "runtime_texture".
// Valid type names consist of lowercase letters, digits and underscores.
type ResourceType string

// Validate checks that the type name is well-formed.
func (t ResourceType) Validate() error {
	if t == "" {
		return fmt.Errorf("%w: empty type name", ErrInvalidResourceType)
	}
	for _, c := range t {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidResourceType, string(t), string(c))
		}
	}
	return nil
}

// ResourceID is the stable identifier of a source resource within a project.
type ResourceID uint64

func (id ResourceID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ResourceTypeID identifies a concrete source resource.
type ResourceTypeID struct {
	Type ResourceType
	ID   ResourceID
}

func (s ResourceTypeID) String() string {
	return string(s.Type) + ":" + s.ID.String()
}

// Transform identifies a transformation type between two resource types.
type Transform struct {
	From ResourceType
	To   ResourceType
}

func (t Transform) String() string {
	return string(t.From) + "-" + string(t.To)
}

// ParseTransform parses the "from-to" encoding produced by String.
func ParseTransform(s string) (Transform, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Transform{}, fmt.Errorf("%w: transform %q", ErrInvalidPath, s)
	}
	tr := Transform{From: ResourceType(from), To: ResourceType(to)}
	if err := tr.From.Validate(); err != nil {
		return Transform{}, err
	}
	if err := tr.To.Validate(); err != nil {
		return Transform{}, err
	}
	return tr, nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Transform) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Transform) UnmarshalText(data []byte) error {
	parsed, err := ParseTransform(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// step is one transformation applied along the path. Name optionally selects
// a specific compilation output of that step.
type step struct {
	kind ResourceType
	name string
}

// ResourcePathID identifies a path in the build graph: a source resource and
// the ordered list of content types it is transformed into.
//
// Values are immutable; Push and PushNamed return new values. Equality and
// ordering cover the full chain, which makes ResourcePathID usable as a map
// key via its canonical string encoding.
type ResourcePathID struct {
	source ResourceTypeID
	steps  []step
}

// New creates a path identifying the given source resource with no
// transformations applied.
func New(source ResourceTypeID) ResourcePathID {
	return ResourcePathID{source: source}
}

// Push returns a new path with an additional unnamed transformation step.
func (p ResourcePathID) Push(kind ResourceType) ResourcePathID {
	return p.PushNamed(kind, "")
}

// PushNamed returns a new path with an additional transformation step that
// selects the compilation output identified by name.
func (p ResourcePathID) PushNamed(kind ResourceType, name string) ResourcePathID {
	steps := make([]step, len(p.steps), len(p.steps)+1)
	copy(steps, p.steps)
	steps = append(steps, step{kind: kind, name: name})
	return ResourcePathID{source: p.source, steps: steps}
}

// Source returns the source resource this path originates from.
func (p ResourcePathID) Source() ResourceTypeID {
	return p.source
}

// IsSource reports whether the path has no transformation steps.
func (p ResourcePathID) IsSource() bool {
	return len(p.steps) == 0
}

// ContentType returns the output type of the last step, or the source type if
// the path has no transformations.
func (p ResourcePathID) ContentType() ResourceType {
	if len(p.steps) == 0 {
		return p.source.Type
	}
	return p.steps[len(p.steps)-1].kind
}

// Name returns the output name of the last step, if any.
func (p ResourcePathID) Name() string {
	if len(p.steps) == 0 {
		return ""
	}
	return p.steps[len(p.steps)-1].name
}

// Unnamed returns the path with the output name of the last step dropped.
// Compilation always processes the whole input; names only select outputs.
func (p ResourcePathID) Unnamed() ResourcePathID {
	if p.Name() == "" {
		return p
	}
	steps := make([]step, len(p.steps))
	copy(steps, p.steps)
	steps[len(steps)-1].name = ""
	return ResourcePathID{source: p.source, steps: steps}
}

// DirectDependency returns the path this node is derived from, i.e. the path
// with the last transformation removed. ok is false for source paths.
func (p ResourcePathID) DirectDependency() (ResourcePathID, bool) {
	if len(p.steps) == 0 {
		return ResourcePathID{}, false
	}
	steps := make([]step, len(p.steps)-1)
	copy(steps, p.steps[:len(p.steps)-1])
	return ResourcePathID{source: p.source, steps: steps}, true
}

// LastTransform returns the transformation implemented by the last step.
// ok is false for source paths.
func (p ResourcePathID) LastTransform() (Transform, bool) {
	if len(p.steps) == 0 {
		return Transform{}, false
	}
	from := p.source.Type
	if len(p.steps) > 1 {
		from = p.steps[len(p.steps)-2].kind
	}
	return Transform{From: from, To: p.steps[len(p.steps)-1].kind}, true
}

// String returns the canonical encoding:
//
//	type:0000000000000001|transform|transform#name
//
// Parse is the exact inverse.
func (p ResourcePathID) String() string {
	var b strings.Builder
	b.WriteString(p.source.String())
	for _, s := range p.steps {
		b.WriteByte('|')
		b.WriteString(string(s.kind))
		if s.name != "" {
			b.WriteByte('#')
			b.WriteString(s.name)
		}
	}
	return b.String()
}

// Parse decodes the canonical encoding produced by String.
func Parse(s string) (ResourcePathID, error) {
	head, rest, _ := strings.Cut(s, "|")

	typ, idStr, ok := strings.Cut(head, ":")
	if !ok {
		return ResourcePathID{}, fmt.Errorf("%w: missing source id in %q", ErrInvalidPath, s)
	}
	if err := ResourceType(typ).Validate(); err != nil {
		return ResourcePathID{}, err
	}
	if len(idStr) != 16 {
		return ResourcePathID{}, fmt.Errorf("%w: source id %q must be 16 hex digits", ErrInvalidPath, idStr)
	}
	id, err := strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return ResourcePathID{}, fmt.Errorf("%w: source id %q: %v", ErrInvalidPath, idStr, err)
	}

	p := ResourcePathID{source: ResourceTypeID{Type: ResourceType(typ), ID: ResourceID(id)}}
	for rest != "" {
		var seg string
		seg, rest, _ = strings.Cut(rest, "|")
		kind, name, _ := strings.Cut(seg, "#")
		if err := ResourceType(kind).Validate(); err != nil {
			return ResourcePathID{}, err
		}
		p.steps = append(p.steps, step{kind: ResourceType(kind), name: name})
	}
	return p, nil
}

// Compare orders paths by their canonical encoding, yielding a total order.
func (p ResourcePathID) Compare(other ResourcePathID) int {
	return strings.Compare(p.String(), other.String())
}

// Equal reports whether both paths name the same node.
func (p ResourcePathID) Equal(other ResourcePathID) bool {
	if p.source != other.source || len(p.steps) != len(other.steps) {
		return false
	}
	for i := range p.steps {
		if p.steps[i] != other.steps[i] {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (p ResourcePathID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ResourcePathID) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
