// Package template renders vote and announce email subjects and bodies.
// Committees may override the defaults per release policy; an override whose
// digest matches the displayed default is treated as unset.
package template

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"lukechampine.com/blake3"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// DefaultExecutionTimeout bounds template execution so a pathological
// override cannot wedge a worker.
const DefaultExecutionTimeout = 5 * time.Second

// Template names the service ships defaults for.
const (
	VoteSubject       = "vote-subject"
	VoteBody          = "vote-body"
	AnnounceSubject   = "announce-subject"
	AnnounceBody      = "announce-body"
	ResolutionSubject = "resolution-subject"
	ResolutionBody    = "resolution-body"
)

var defaults = map[string]string{
	VoteSubject: `[VOTE] Release {{.Project}} {{.Version}}`,
	VoteBody: `Hello {{.Committee}},

I'd like to call a vote on releasing the following artifacts as
{{.Project}} {{.Version}}.

Candidate revision: {{.RevisionNumber}}
Vote thread duration: at least {{.DurationHours}} hours.

Please review the release candidate and vote accordingly:

[ ] +1 Release this package
[ ] +0 Abstain
[ ] -1 Do not release this package (please explain why)

Thanks,
{{.InitiatorFullName}} ({{.InitiatorID}})`,
	AnnounceSubject: `[ANNOUNCE] {{.Project}} {{.Version}} released`,
	AnnounceBody: `The {{.Committee}} team is pleased to announce the release of
{{.Project}} {{.Version}}.

Download: {{.DownloadURL}}

Thanks,
The {{.Committee}} team`,
	ResolutionSubject: `[RESULT] [VOTE] Release {{.Project}} {{.Version}}`,
	ResolutionBody: `The vote on releasing {{.Project}} {{.Version}} has {{if .Passed}}passed{{else}}failed{{end}}.

Binding +1: {{.BindingYes}}
Binding -1: {{.BindingNo}}

{{if .Passed}}The release will proceed to announcement.{{else}}A new release candidate will follow.{{end}}`,
}

// VoteData fills the vote templates.
type VoteData struct {
	Project           string
	Version           string
	Committee         string
	RevisionNumber    string
	DurationHours     int
	InitiatorID       string
	InitiatorFullName string
}

// AnnounceData fills the announce templates.
type AnnounceData struct {
	Project     string
	Version     string
	Committee   string
	DownloadURL string
}

// ResolutionData fills the vote-result templates.
type ResolutionData struct {
	Project    string
	Version    string
	Passed     bool
	BindingYes int
	BindingNo  int
}

// Service parses and renders email templates.
type Service struct {
	mu               sync.RWMutex
	templates        map[string]*template.Template
	funcMap          template.FuncMap
	executionTimeout time.Duration
}

// NewService creates a Service with the default templates registered.
func NewService() (*Service, error) {
	const op = "template.NewService"

	s := &Service{
		templates:        make(map[string]*template.Template),
		funcMap:          createFuncMap(),
		executionTimeout: DefaultExecutionTimeout,
	}
	for name, content := range defaults {
		if err := s.Register(name, content); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to parse default template")
		}
	}
	return s, nil
}

// Register parses and stores a template under name, replacing any previous
// registration. Policy overrides go through here.
func (s *Service) Register(name, content string) error {
	tmpl, err := template.New(name).Funcs(s.funcMap).Parse(content)
	if err != nil {
		return atrerrors.Newf(atrerrors.KindValidation, "failed to parse template %s: %v", name, err)
	}
	s.mu.Lock()
	s.templates[name] = tmpl
	s.mu.Unlock()
	return nil
}

// Render renders a registered template.
func (s *Service) Render(name string, data any) (string, error) {
	const op = "template.Render"

	s.mu.RLock()
	tmpl, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", atrerrors.Newf(atrerrors.KindNotFound, "template %s not found", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout)
	defer cancel()
	return s.execute(ctx, op, tmpl, data)
}

// RenderString parses and renders a one-off template string.
func (s *Service) RenderString(content string, data any) (string, error) {
	const op = "template.RenderString"

	tmpl, err := template.New("inline").Funcs(s.funcMap).Parse(content)
	if err != nil {
		return "", atrerrors.Newf(atrerrors.KindValidation, "failed to parse template: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout)
	defer cancel()
	return s.execute(ctx, op, tmpl, data)
}

// execute runs the template in a goroutine so a runaway override hits the
// timeout instead of blocking the caller. template.Execute itself is not
// cancellable; the goroutine finishes on its own.
func (s *Service) execute(ctx context.Context, op string, tmpl *template.Template, data any) (string, error) {
	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: atrerrors.Newf(atrerrors.KindInternal, "template %s panicked: %v", tmpl.Name(), r)}
			}
		}()
		if err := tmpl.Execute(&buf, data); err != nil {
			done <- result{err: atrerrors.Newf(atrerrors.KindValidation, "failed to render template %s: %v", tmpl.Name(), err)}
			return
		}
		done <- result{output: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", atrerrors.Newf(atrerrors.KindInternal, "template %s execution timed out", tmpl.Name())
	case r := <-done:
		return r.output, r.err
	}
}

// Default returns the shipped content for a template name.
func Default(name string) (string, bool) {
	content, ok := defaults[name]
	return content, ok
}

// Digest is the content digest used to detect "override equals displayed
// default" on policy edits.
func Digest(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IsDefault reports whether content is byte-identical to the shipped default
// for name, compared by digest.
func IsDefault(name, content string) bool {
	def, ok := defaults[name]
	return ok && Digest(def) == Digest(content)
}

func createFuncMap() template.FuncMap {
	return template.FuncMap{
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"trim":       strings.TrimSpace,
		"trimPrefix": strings.TrimPrefix,
		"trimSuffix": strings.TrimSuffix,
		"replace":    strings.ReplaceAll,
		"join":       strings.Join,
		"now":        time.Now,
		"dateISO":    func(t time.Time) string { return t.Format("2006-01-02") },
		"indent": func(spaces int, s string) string {
			pad := strings.Repeat(" ", spaces)
			return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
		},
		"default": func(def, value any) any {
			if value == nil || value == "" {
				return def
			}
			return value
		},
		"quote": func(s string) string { return fmt.Sprintf("%q", s) },
	}
}
