package middleware

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	svcerrors "github.com/sgajbi/advisor-experience-api/internal/errors"
	"github.com/sgajbi/advisor-experience-api/internal/httputil"
	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// =============================================================================
// Write Authorization Headers
// =============================================================================

const (
	ActorHeader           = "X-Actor-Id"
	TenantHeader          = "X-Tenant-Id"
	RoleHeader            = "X-Role"
	ServiceIdentityHeader = "X-Service-Identity"
	CapabilitiesHeader    = "X-Capabilities"
)

// requiredWriteHeaders must all be present on a mutating request.
var requiredWriteHeaders = []string{
	ActorHeader,
	TenantHeader,
	RoleHeader,
	logging.CorrelationHeader,
	ServiceIdentityHeader,
}

type contextKey string

const actorKey contextKey = "actor_id"

// =============================================================================
// Write Authorization Middleware
// =============================================================================

// WriteAuthzConfig configures the write authorization middleware.
type WriteAuthzConfig struct {
	// Enforce turns header and capability checks on. When off, writes are
	// only audited.
	Enforce bool
	// Capabilities maps "METHOD /path-prefix" to the capability a caller
	// must list in X-Capabilities.
	Capabilities map[string]string
	Logger       *logging.Logger
}

type capabilityRule struct {
	method     string
	prefix     string
	capability string
}

// WriteAuthzMiddleware guards mutating requests with caller identity
// headers and capability rules, and writes an audit line for each of them.
type WriteAuthzMiddleware struct {
	enforce bool
	rules   []capabilityRule
	logger  *logging.Logger
}

// NewWriteAuthzMiddleware creates a new write authorization middleware.
func NewWriteAuthzMiddleware(cfg WriteAuthzConfig) *WriteAuthzMiddleware {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	rules := make([]capabilityRule, 0, len(cfg.Capabilities))
	for key, capability := range cfg.Capabilities {
		parts := strings.Fields(key)
		if len(parts) != 2 || strings.TrimSpace(capability) == "" {
			continue
		}
		rules = append(rules, capabilityRule{
			method:     strings.ToUpper(parts[0]),
			prefix:     strings.TrimRight(parts[1], "/"),
			capability: strings.TrimSpace(capability),
		})
	}
	// Longest prefix wins
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].prefix) != len(rules[j].prefix) {
			return len(rules[i].prefix) > len(rules[j].prefix)
		}
		return rules[i].method < rules[j].method
	})

	return &WriteAuthzMiddleware{enforce: cfg.Enforce, rules: rules, logger: logger}
}

// Handler returns the middleware handler function.
func (m *WriteAuthzMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isWrite(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		if err := m.Authorize(r.Method, r.URL.Path, r.Header); err != nil {
			serviceErr := svcerrors.GetServiceError(err)
			m.logger.WithContext(r.Context()).WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
				"actor":  r.Header.Get(ActorHeader),
				"reason": serviceErr.Message,
			}).Warn("write request denied")
			httputil.WriteProblem(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message)
			return
		}

		actor := r.Header.Get(ActorHeader)
		ctx := r.Context()
		if actor != "" {
			ctx = context.WithValue(ctx, actorKey, actor)
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		m.logger.WithContext(ctx).WithFields(logrus.Fields{
			"audit":     true,
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rw.statusCode,
			"actor_id":  actor,
			"tenant_id": r.Header.Get(TenantHeader),
			"role":      r.Header.Get(RoleHeader),
		}).Info("write request audited")
	})
}

// Authorize checks one write request. It returns nil when enforcement is off.
func (m *WriteAuthzMiddleware) Authorize(method, path string, header http.Header) error {
	if !m.enforce {
		return nil
	}

	missing := make([]string, 0)
	for _, name := range requiredWriteHeaders {
		if strings.TrimSpace(header.Get(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return svcerrors.Unauthorized("missing_headers:" + strings.Join(missing, ","))
	}

	required := m.requiredCapability(method, path)
	if required == "" {
		return nil
	}
	for _, granted := range strings.Split(header.Get(CapabilitiesHeader), ",") {
		if strings.TrimSpace(granted) == required {
			return nil
		}
	}
	return svcerrors.Forbidden("missing_capability:" + required)
}

func (m *WriteAuthzMiddleware) requiredCapability(method, path string) string {
	method = strings.ToUpper(method)
	for _, rule := range m.rules {
		if rule.method != method {
			continue
		}
		if path == rule.prefix || strings.HasPrefix(path, rule.prefix+"/") {
			return rule.capability
		}
	}
	return ""
}

// ActorID returns the authorized actor stored in ctx, or "".
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
