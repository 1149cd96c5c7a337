// Package flypack scrapes the Flypack customer portal. The portal has no API:
// login is a form POST answered with a javascript redirect, and the package
// list is an HTML table on the redirected page.
package flypack

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/remote"
)

const (
	sessionExpiredMarker = "Session expirada, ingrese nuevamente al sistema"
	invalidLoginPath     = "index.php?ID=323&OPTIONS=LogiN&MSG=USUARIO O CLAVE INVALIDO"
	packagesPageTitle    = "Mis Paquetes"
	deliveredDateLayout  = "02/01/2006"
)

var redirectRe = regexp.MustCompile(`window\.location='([^']*)'`)

// Client implements remote.Source against the live portal.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

func New(baseURL string, log zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	return &Client{http: c, log: log.With().Str("component", "flypack").Logger()}
}

var _ remote.Source = (*Client)(nil)

// HealthPing verifies the portal front page is reachable.
func (c *Client) HealthPing(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return fmt.Errorf("portal ping: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("portal ping: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// Authenticate posts the login form and extracts the redirect path from the
// inline script in the response. The portal signals bad credentials by
// redirecting back to the login page instead of returning an error status.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	c.log.Info().Str("account", username).Msg("logging into portal")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"EJECUTE":     "1",
			"contactForm": "",
			"text1":       username,
			"text2":       password,
		}).
		Post("/run.php")
	if err != nil {
		return "", fmt.Errorf("portal login: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("portal login: unexpected status %d", resp.StatusCode())
	}

	m := redirectRe.FindStringSubmatch(resp.String())
	if m == nil {
		return "", fmt.Errorf("portal login: no redirect in response")
	}
	path := strings.TrimSpace(m[1])
	if path == invalidLoginPath {
		return "", remote.ErrBadCredentials
	}
	return path, nil
}

// FetchPackages loads the redirected page and parses the package table. An
// empty table on a page carrying the expired-session banner means the path
// must be re-obtained via Authenticate.
func (c *Client) FetchPackages(ctx context.Context, sessionPath, username string) ([]model.Package, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/" + strings.TrimPrefix(sessionPath, "/"))
	if err != nil {
		return nil, fmt.Errorf("portal fetch: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("portal fetch: unexpected status %d", resp.StatusCode())
	}

	body := resp.String()
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("portal fetch: parse html: %w", err)
	}

	if webUser := parseAccountNumber(doc); webUser != "" && webUser != username {
		c.log.Warn().
			Str("web_username", webUser).
			Str("username", username).
			Msg("portal account number differs from stored username")
	}

	pkgs := parsePackageRows(doc, username)
	if pkgs == nil {
		if strings.Contains(body, sessionExpiredMarker) {
			return nil, remote.ErrSessionExpired
		}
		if !strings.Contains(body, packagesPageTitle) {
			return nil, fmt.Errorf("portal fetch: unrecognized page for path %s", sessionPath)
		}
	}
	return pkgs, nil
}

var digitsRe = regexp.MustCompile(`\d+`)

// parseAccountNumber pulls the numeric account id shown in the page header.
func parseAccountNumber(doc *html.Node) string {
	var text string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "strong" {
			t := innerText(n)
			if digitsRe.MatchString(t) && text == "" {
				text = t
			}
		}
		return true
	})
	return digitsRe.FindString(text)
}

// parsePackageRows returns nil when the table has no rows, which the caller
// disambiguates into "expired session" or "no packages".
func parsePackageRows(doc *html.Node, username string) []model.Package {
	var rows []*html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "tbody" {
			for tr := n.FirstChild; tr != nil; tr = tr.NextSibling {
				if tr.Type == html.ElementNode && tr.Data == "tr" {
					rows = append(rows, tr)
				}
			}
		}
		return true
	})
	if len(rows) == 0 {
		return nil
	}

	var pkgs []model.Package
	for _, tr := range rows {
		pkg, ok := parseRow(tr, username)
		if ok {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}

func parseRow(tr *html.Node, username string) (model.Package, bool) {
	var cells []*html.Node
	for td := tr.FirstChild; td != nil; td = td.NextSibling {
		if td.Type == html.ElementNode && td.Data == "td" {
			cells = append(cells, td)
		}
	}
	if len(cells) < 5 {
		return model.Package{}, false
	}

	// Cell 1 carries "identifier,tracking" on separate lines.
	info := splitLines(innerText(cells[1]))
	if len(info) < 2 {
		return model.Package{}, false
	}

	// Cell 2 is "description<br>dd/mm/yyyy".
	description, deliveredAt := parseContentCell(cells[2])

	// A portal UI change shuffled the weight and status one column to the
	// right on some pages; accept both layouts.
	weight, werr := strconv.ParseFloat(strings.TrimSpace(innerText(cells[3])), 64)
	if werr != nil && len(cells) > 4 {
		weight, _ = strconv.ParseFloat(strings.TrimSpace(innerText(cells[4])), 64)
	}

	status := findFirstText(cells[4], "label")
	percentage := findFirstText(cells[4], "div")
	if status == "" && len(cells) > 5 {
		status = findFirstText(cells[5], "label")
		percentage = findFirstText(cells[5], "div")
	}

	return model.Package{
		Identifier:  strings.TrimSpace(info[0]),
		Username:    username,
		Tracking:    strings.TrimSpace(info[1]),
		Description: description,
		Weight:      weight,
		Status: model.PackageStatus{
			Description: strings.TrimSpace(status),
			Percentage:  strings.TrimSpace(percentage),
		},
		DeliveredAt: deliveredAt,
	}, true
}

func parseContentCell(td *html.Node) (string, time.Time) {
	var parts []string
	var cur strings.Builder
	walk(td, func(n *html.Node) bool {
		switch {
		case n.Type == html.TextNode:
			cur.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			parts = append(parts, cur.String())
			cur.Reset()
		}
		return true
	})
	parts = append(parts, cur.String())

	description := strings.TrimSpace(parts[0])
	var deliveredAt time.Time
	if len(parts) > 1 {
		if t, err := time.Parse(deliveredDateLayout, strings.TrimSpace(parts[1])); err == nil {
			deliveredAt = t
		}
	}
	return description, deliveredAt
}

// findFirstText returns the text of the first descendant element with the
// given tag, e.g. the status <label> or the progress-bar <div>.
func findFirstText(n *html.Node, tag string) string {
	var out string
	walk(n, func(c *html.Node) bool {
		if out == "" && c.Type == html.ElementNode && c.Data == tag && c != n {
			if tag != "div" || hasClass(c, "progress-bar") {
				out = strings.TrimSpace(innerText(c))
				return false
			}
		}
		return true
	})
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func innerText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}
