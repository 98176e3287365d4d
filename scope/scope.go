package scope

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is how long an issued credential is honoured by the transport.
const DefaultTTL = 30 * time.Minute

// Permission is a single operation a credential may perform on a topic.
type Permission string

const (
	PermissionPublish   Permission = "publish"
	PermissionSubscribe Permission = "subscribe"
)

// Permissions is an unordered set of permissions.
type Permissions map[Permission]struct{}

// NewPermissions builds a set from the given permissions, ignoring duplicates.
func NewPermissions(perms ...Permission) Permissions {
	set := make(Permissions, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// PublishSubscribe is the permission set granted by every issuance in this system.
func PublishSubscribe() Permissions {
	return NewPermissions(PermissionPublish, PermissionSubscribe)
}

// ParsePermissions converts the wire form of a permission set back into a Permissions value.
func ParsePermissions(values []string) (Permissions, error) {
	set := make(Permissions, len(values))
	for _, v := range values {
		p := Permission(strings.ToLower(strings.TrimSpace(v)))
		switch p {
		case PermissionPublish, PermissionSubscribe:
			set[p] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown permission %q", v)
		}
	}
	return set, nil
}

func (p Permissions) Has(perm Permission) bool {
	_, ok := p[perm]
	return ok
}

// Contains reports whether p is a superset of other.
func (p Permissions) Contains(other Permissions) bool {
	for perm := range other {
		if !p.Has(perm) {
			return false
		}
	}
	return true
}

// Strings returns the permissions sorted, suitable for embedding in a token.
func (p Permissions) Strings() []string {
	out := make([]string, 0, len(p))
	for perm := range p {
		out = append(out, string(perm))
	}
	sort.Strings(out)
	return out
}

func (p Permissions) clone() Permissions {
	out := make(Permissions, len(p))
	for perm := range p {
		out[perm] = struct{}{}
	}
	return out
}

// TopicSelector selects either every topic in a namespace or one named topic.
// The zero value selects nothing and fails validation.
type TopicSelector struct {
	all  bool
	name string
}

// AllTopics selects every topic within the namespace.
var AllTopics = TopicSelector{all: true}

// Topic selects a single named topic.
func Topic(name string) TopicSelector {
	return TopicSelector{name: name}
}

// ParseTopicSelector is the inverse of TopicSelector.String. An empty string yields an empty
// explicit topic, which Validate rejects.
func ParseTopicSelector(s string) TopicSelector {
	if s == "*" {
		return AllTopics
	}
	return Topic(s)
}

func (t TopicSelector) IsAll() bool {
	return t.all
}

func (t TopicSelector) Name() string {
	return t.name
}

func (t TopicSelector) Matches(topic string) bool {
	if t.all {
		return true
	}
	return t.name != "" && t.name == topic
}

func (t TopicSelector) String() string {
	if t.all {
		return "*"
	}
	return t.name
}

// CredentialScope describes what a disposable credential authorises: which namespace, which topics,
// which operations and for how long. A scope is immutable once built.
type CredentialScope struct {
	namespace   string
	topics      TopicSelector
	permissions Permissions
	ttl         time.Duration
}

// New builds a scope. Use Validate before handing the scope to a transport.
func New(namespace string, topics TopicSelector, permissions Permissions, ttl time.Duration) CredentialScope {
	return CredentialScope{
		namespace:   namespace,
		topics:      topics,
		permissions: permissions.clone(),
		ttl:         ttl,
	}
}

// TopicPublishSubscribe grants publish and subscribe on the selected topics of a namespace.
func TopicPublishSubscribe(namespace string, topics TopicSelector, ttl time.Duration) CredentialScope {
	return New(namespace, topics, PublishSubscribe(), ttl)
}

func (s CredentialScope) Namespace() string {
	return s.namespace
}

func (s CredentialScope) Topics() TopicSelector {
	return s.topics
}

// Permissions returns a copy of the scope's permission set.
func (s CredentialScope) Permissions() Permissions {
	return s.permissions.clone()
}

func (s CredentialScope) TTL() time.Duration {
	return s.ttl
}

func (s CredentialScope) Validate() error {
	if strings.TrimSpace(s.namespace) == "" {
		return fmt.Errorf("scope: namespace is required")
	}
	if !s.topics.all && strings.TrimSpace(s.topics.name) == "" {
		return fmt.Errorf("scope: topic selector is empty")
	}
	if len(s.permissions) == 0 {
		return fmt.Errorf("scope: at least one permission is required")
	}
	if s.ttl <= 0 {
		return fmt.Errorf("scope: ttl must be positive, got %s", s.ttl)
	}
	return nil
}

// Allows reports whether the scope grants perm on topic within namespace.
func (s CredentialScope) Allows(namespace, topic string, perm Permission) bool {
	return s.namespace == namespace && s.topics.Matches(topic) && s.permissions.Has(perm)
}

func (s CredentialScope) String() string {
	return fmt.Sprintf("%s/%s [%s] ttl=%s", s.namespace, s.topics, strings.Join(s.permissions.Strings(), ","), s.ttl)
}
