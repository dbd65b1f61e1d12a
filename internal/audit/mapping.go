package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Routes whose action is not implied by method and path.
var routeOverrides = map[string]ActionResource{
	"POST /auth/v1/token":  {Action: "token", Resource: "session"},
	"POST /auth/v1/logout": {Action: "logout", Resource: "session"},
	"POST /auth/v1/resend": {Action: "resend", Resource: "user"},
	"GET /auth/v1/verify":  {Action: "verify", Resource: "user"},
}

// ParseRoute returns action and resource for an HTTP method and route template
// (e.g. GET /rest/v1/profiles/:id). Resource is the singular of the last static
// segment; action is derived from the method and whether the route names one row.
func ParseRoute(method, route string) ActionResource {
	if ar, ok := routeOverrides[method+" "+route]; ok {
		return ar
	}
	var segs []string
	for _, s := range strings.Split(strings.Trim(route, "/"), "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	resource := "unknown"
	params := false
	for _, s := range segs {
		if strings.HasPrefix(s, ":") || strings.HasPrefix(s, "*") {
			params = true
			continue
		}
		if s == "auth" || s == "rest" || isVersion(s) {
			continue
		}
		resource = singular(s)
	}
	return ActionResource{Action: methodToAction(method, params), Resource: resource}
}

func isVersion(s string) bool {
	return len(s) > 1 && s[0] == 'v' && strings.Trim(s[1:], "0123456789") == ""
}

func singular(s string) string {
	if strings.HasSuffix(s, "s") && len(s) > 1 {
		return s[:len(s)-1]
	}
	return s
}

func methodToAction(method string, byID bool) string {
	switch strings.ToUpper(method) {
	case "GET":
		if byID {
			return "get"
		}
		return "list"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
