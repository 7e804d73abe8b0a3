package classifier

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type Rules []Rule

// Rule forces a route class for matching requests. All set fields must match.
type Rule struct {
	Host   string            `yaml:"host"`
	Prefix string            `yaml:"prefix"`
	Path   string            `yaml:"path"`
	Suffix string            `yaml:"suffix"`
	Query  map[string]string `yaml:"query"`
	Class  RouteClass        `yaml:"class"`
}

func (r Rules) find(req *http.Request) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i := range r {
		rule := &r[i]
		if !rule.Class.Valid() {
			continue
		}
		if rule.Host != "" && !strings.EqualFold(rule.Host, req.URL.Hostname()) {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if rule.Suffix != "" && !strings.HasSuffix(req.URL.Path, rule.Suffix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return rule
	}
	return nil
}
