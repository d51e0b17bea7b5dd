package gateway

import (
	"net/http"
	"strings"

	"github.com/hashjosh/meshauth/internal/auth"
)

// Class is the routing class of an inbound request.
type Class int

const (
	// ClassPublic requests are forwarded without any credential check.
	ClassPublic Class = iota
	// ClassTrustExempt requests carry a trusted X-Internal-Service header.
	ClassTrustExempt
	// ClassUntrusted requests carry an X-Internal-Service header that is not trusted.
	ClassUntrusted
	// ClassProtected requests need a valid access token.
	ClassProtected
)

func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassTrustExempt:
		return "trust_exempt"
	case ClassUntrusted:
		return "untrusted"
	default:
		return "protected"
	}
}

// Classifier assigns each request exactly one Class. It is read-only after construction.
type Classifier struct {
	public         *auth.PathSet
	realtimePrefix string
	trust          *auth.TrustRegistry
}

// NewClassifier builds a classifier. The realtime prefix, when set, is always public.
func NewClassifier(publicPaths []string, realtimePrefix string, trust *auth.TrustRegistry) *Classifier {
	return &Classifier{
		public:         auth.NewPathSet(publicPaths),
		realtimePrefix: strings.TrimRight(realtimePrefix, "/"),
		trust:          trust,
	}
}

// Classify evaluates, in order: public path, trusted service, untrusted service, protected.
func (c *Classifier) Classify(r *http.Request) Class {
	if c.IsRealtime(r.URL.Path) || c.public.Match(r.URL.Path) {
		return ClassPublic
	}
	if serviceID := strings.TrimSpace(r.Header.Get(auth.HeaderInternalService)); serviceID != "" {
		if c.trust.IsTrusted(serviceID) {
			return ClassTrustExempt
		}
		return ClassUntrusted
	}
	return ClassProtected
}

// IsRealtime reports whether path is the realtime prefix or below it.
func (c *Classifier) IsRealtime(path string) bool {
	if c.realtimePrefix == "" {
		return false
	}
	return path == c.realtimePrefix || strings.HasPrefix(path, c.realtimePrefix+"/")
}
