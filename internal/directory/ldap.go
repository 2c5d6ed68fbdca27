package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	usernamePlaceholder = "%(username)"
	groupAttribute      = "cn"
	defaultFilter       = "(objectClass=*)"
	defaultLDAPTimeout  = 10 * time.Second
)

// LDAPConfig describes how to bind and search for a user's groups.
//
// Bind is a DN template, Filter an optional search filter template; both may
// contain %(username), which is replaced by the escaped login name.
type LDAPConfig struct {
	Server   string        `yaml:"server"`
	Base     string        `yaml:"base"`
	Bind     string        `yaml:"bind"`
	Filter   string        `yaml:"filter"`
	StartTLS bool          `yaml:"start_tls"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LDAP authenticates by binding as the user and reads groups from the cn
// attribute of every entry the search returns.
type LDAP struct {
	cfg LDAPConfig
}

var _ Directory = (*LDAP)(nil)

// NewLDAP validates cfg and returns a directory client. Connections are opened
// per call, so the client holds no shared mutable state.
func NewLDAP(cfg LDAPConfig) (*LDAP, error) {
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, errors.New("directory: ldap server is required")
	}
	if strings.TrimSpace(cfg.Bind) == "" {
		return nil, errors.New("directory: ldap bind template is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLDAPTimeout
	}
	return &LDAP{cfg: cfg}, nil
}

func (l *LDAP) Authenticate(ctx context.Context, username, password string) ([]string, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	dialer := &net.Dialer{Timeout: l.cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := ldap.DialURL(l.cfg.Server, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, fmt.Errorf("ldap dial: %w", err)
	}
	defer conn.Close()
	conn.SetTimeout(l.cfg.Timeout)

	if l.cfg.StartTLS {
		host := hostOf(l.cfg.Server)
		if err := conn.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return nil, fmt.Errorf("ldap starttls: %w", err)
		}
	}

	if err := conn.Bind(bindDN(l.cfg.Bind, username), password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("ldap bind: %w", err)
	}

	req := ldap.NewSearchRequest(
		l.cfg.Base,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(l.cfg.Timeout/time.Second),
		false,
		searchFilter(l.cfg.Filter, username),
		[]string{groupAttribute},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap search: %w", err)
	}
	if len(res.Entries) == 0 {
		return nil, ErrInvalidCredentials
	}
	return groupsOf(res.Entries), nil
}

func bindDN(template, username string) string {
	return strings.ReplaceAll(template, usernamePlaceholder, ldap.EscapeDN(username))
}

func searchFilter(template, username string) string {
	if strings.TrimSpace(template) == "" {
		return defaultFilter
	}
	return strings.ReplaceAll(template, usernamePlaceholder, ldap.EscapeFilter(username))
}

func groupsOf(entries []*ldap.Entry) []string {
	groups := make([]string, 0, len(entries))
	for _, e := range entries {
		groups = append(groups, e.GetAttributeValues(groupAttribute)...)
	}
	return groups
}

func hostOf(server string) string {
	s := server
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimSuffix(s, "/")
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
