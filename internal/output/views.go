package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sitewire/sitewire/internal/analytics"
	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/site"
	"github.com/sitewire/sitewire/internal/throttle"
)

// RequestResult is one issued request.
type RequestResult struct {
	Index     int           `json:"index"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status,omitempty"`
	Category  string        `json:"category,omitempty"`
	Latency   time.Duration `json:"latency"`
	Offset    time.Duration `json:"offset"`
	Waited    time.Duration `json:"waited"`
	Error     string        `json:"error,omitempty"`
	Body      string        `json:"body,omitempty"`
	Signature string        `json:"signature"`
}

// RequestResults renders a request run.
type RequestResults struct {
	Results  []RequestResult `json:"results"`
	ShowBody bool            `json:"-"`
}

func (r RequestResults) Tables() []table.Writer {
	t := newTable("", "#", "Request", "Status", "Latency", "Offset", "Waited", "Result")
	ok := 0
	for _, res := range r.Results {
		status := "-"
		if res.Status > 0 {
			status = fmt.Sprintf("%d", res.Status)
		}
		result := "ok"
		if res.Category != "" {
			result = res.Category
		} else {
			ok++
		}
		t.AppendRow(table.Row{
			res.Index,
			res.Method + " " + res.Path,
			status,
			formatDuration(res.Latency),
			formatOffset(res.Offset),
			formatDuration(res.Waited),
			result,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d/%d ok", ok, len(r.Results))})

	tables := []table.Writer{t}
	if r.ShowBody && len(r.Results) > 0 {
		last := r.Results[len(r.Results)-1]
		if last.Body != "" {
			body := newTable("Response body")
			body.AppendRow(table.Row{last.Body})
			tables = append(tables, body)
		}
	}
	return tables
}

// Ledger renders throttle entries.
type Ledger []throttle.Entry

func (l Ledger) Tables() []table.Writer {
	t := newTable("Throttle ledger", "Signature", "Last dispatch")
	for _, e := range l {
		t.AppendRow(table.Row{e.Signature, e.LastDispatch.UTC().Format(time.RFC3339Nano)})
	}
	return []table.Writer{t}
}

// Sinks renders analytics sink slots.
type Sinks []analytics.SinkStatus

func (s Sinks) Tables() []table.Writer {
	t := newTable("Analytics sinks", "Sink", "Script", "Injected", "Loaded", "Failures")
	for _, st := range s {
		t.AppendRow(table.Row{st.Name, st.ScriptID, yesNo(st.Injected), yesNo(st.Loaded), st.Failures})
	}
	return []table.Writer{t}
}

// Session renders a site snapshot.
type Session struct {
	*site.Session
}

func (s Session) Tables() []table.Writer {
	if s.Session == nil {
		return nil
	}
	t := newTable("Session", "Field", "Value")
	t.AppendRows([]table.Row{
		{"session id", s.SessionID},
		{"mode", s.Mode},
		{"base url", s.BaseURL},
		{"path", s.Path},
		{"browser", yesNo(s.Browser)},
		{"consent", string(s.Consent.State)},
		{"consent date", formatTime(s.Consent.At)},
		{"authenticated", yesNo(s.Authenticated)},
	})
	if s.Profile != nil {
		t.AppendRow(table.Row{"user", profileLabel(s.Profile)})
	}

	tables := []table.Writer{t}
	tables = append(tables, Ledger(s.Throttle).Tables()...)
	tables = append(tables, Sinks(s.Sinks).Tables()...)
	return tables
}

// Consent renders a consent decision.
type Consent struct {
	consent.Decision
}

func (c Consent) Tables() []table.Writer {
	t := newTable("", "Consent", "Recorded", "Tracking")
	t.AppendRow(table.Row{string(c.State), formatTime(c.At), yesNo(c.AllowsTracking())})
	return []table.Writer{t}
}

// AuthStatus describes the stored credential.
type AuthStatus struct {
	Authenticated bool          `json:"authenticated"`
	Profile       *auth.Profile `json:"profile,omitempty"`
	Subject       string        `json:"subject,omitempty"`
	Issuer        string        `json:"issuer,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	Expired       bool          `json:"expired"`
	ClaimsError   string        `json:"claims_error,omitempty"`
}

func (a AuthStatus) Tables() []table.Writer {
	t := newTable("Credential", "Field", "Value")
	t.AppendRow(table.Row{"authenticated", yesNo(a.Authenticated)})
	if !a.Authenticated {
		return []table.Writer{t}
	}
	if a.Profile != nil {
		t.AppendRow(table.Row{"user", profileLabel(a.Profile)})
		if a.Profile.Role != "" {
			t.AppendRow(table.Row{"role", a.Profile.Role})
		}
	}
	if a.Subject != "" {
		t.AppendRow(table.Row{"subject", a.Subject})
	}
	if a.Issuer != "" {
		t.AppendRow(table.Row{"issuer", a.Issuer})
	}
	if a.ExpiresAt != nil {
		t.AppendRow(table.Row{"expires", formatTime(*a.ExpiresAt)})
		t.AppendRow(table.Row{"expired", yesNo(a.Expired)})
	}
	if a.ClaimsError != "" {
		t.AppendRow(table.Row{"claims", a.ClaimsError})
	}
	return []table.Writer{t}
}

// AnalyticsRun is the record of a headless analytics session.
type AnalyticsRun struct {
	Path      string                 `json:"path"`
	Consent   consent.State          `json:"consent"`
	Sinks     []analytics.SinkStatus `json:"sinks"`
	Scripts   []platform.Injection   `json:"scripts"`
	Calls     []platform.Call        `json:"calls"`
	PageViews []string               `json:"page_views"`
}

func (a AnalyticsRun) Tables() []table.Writer {
	summary := newTable("Analytics run", "Path", "Consent", "Page views")
	views := "-"
	if len(a.PageViews) > 0 {
		views = fmt.Sprintf("%v", a.PageViews)
	}
	summary.AppendRow(table.Row{a.Path, string(a.Consent), views})

	scripts := newTable("Scripts", "ID", "Source", "Loaded")
	for _, inj := range a.Scripts {
		scripts.AppendRow(table.Row{inj.Script.ID, inj.Script.Src, yesNo(inj.Loaded)})
	}

	calls := newTable("Calls", "#", "Global", "Arguments")
	for i, call := range a.Calls {
		calls.AppendRow(table.Row{i + 1, call.Global, formatArgs(call.Args)})
	}

	tables := []table.Writer{summary}
	tables = append(tables, Sinks(a.Sinks).Tables()...)
	return append(tables, scripts, calls)
}

func profileLabel(p *auth.Profile) string {
	switch {
	case p.Name != "" && p.Email != "":
		return fmt.Sprintf("%s <%s>", p.Name, p.Email)
	case p.Email != "":
		return p.Email
	case p.Name != "":
		return p.Name
	default:
		return p.ID
	}
}
