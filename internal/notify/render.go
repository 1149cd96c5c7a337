// Package notify renders package digests and fans them out to chats.
package notify

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/parcelwatch/parcelwatch/internal/l10n"
	"github.com/parcelwatch/parcelwatch/internal/model"
)

const (
	// Digests with more packages than this get a count line below the title.
	simplePackagesAmount = 3

	// separator marks a forced chunk boundary inside a rendered digest.
	// Split turns it into a message break before applying the length limit.
	separator = "_break-line_"

	headerEntities        = 2
	fullPackageEntities   = 8
	updatePackageEntities = 7

	deliveredDateLayout = "Jan 02, 2006"
)

var titleCaser = cases.Title(language.Und)

// Renderer builds Markdown digests. The entity budget bounds how much bold
// and italic markup a single chat message may carry.
type Renderer struct {
	maxEntities int
}

func NewRenderer(maxEntities int) *Renderer {
	return &Renderer{maxEntities: maxEntities}
}

// Digest renders the package list in lang. With isUpdate set, entries omit
// the delivery date and show previous→current transitions for fields that
// changed; previous may be nil for a full listing.
func (r *Renderer) Digest(lang string, pkgs []model.Package, previous map[string]model.Package, isUpdate bool) string {
	if len(pkgs) == 0 {
		return l10n.T(lang, l10n.EmptyPackageList)
	}

	lines := []string{"*" + l10n.T(lang, l10n.PackageStatusTitle) + "*"}
	if len(pkgs) > simplePackagesAmount && !isUpdate {
		lines = append(lines, "_"+l10n.T(lang, l10n.PackagesInProcess, len(pkgs))+"_")
	}

	entities := headerEntities
	for _, pkg := range pkgs {
		if isUpdate {
			entities += updatePackageEntities
		} else {
			entities += fullPackageEntities
		}
		if entities > r.maxEntities {
			lines = append(lines, separator)
			entities = headerEntities
		} else {
			lines = append(lines, "")
		}
		lines = append(lines, r.packageLines(lang, pkg, previous, !isUpdate)...)
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) packageLines(lang string, pkg model.Package, previous map[string]model.Package, includeDeliveryDate bool) []string {
	lines := make([]string, 0, 6)
	lines = append(lines, "*ID*: "+pkg.Identifier)
	lines = append(lines, "*"+l10n.T(lang, l10n.DescriptionField)+"*: "+titleCaser.String(strings.ToLower(pkg.Description)))
	lines = append(lines, "*"+l10n.T(lang, l10n.TrackingField)+"*: `"+pkg.Tracking+"`")

	if includeDeliveryDate {
		lines = append(lines, "*"+l10n.T(lang, l10n.ReceivedByField)+"*: "+pkg.DeliveredAt.Format(deliveredDateLayout))
	}

	prev := pkg
	if p, ok := previous[pkg.Identifier]; ok {
		prev = p
	}

	pounds := l10n.T(lang, l10n.Pounds)
	if prev.Weight != pkg.Weight {
		lines = append(lines, "*"+l10n.T(lang, l10n.WeightField)+"*: "+formatWeight(prev.Weight)+" → "+formatWeight(pkg.Weight)+" "+pounds)
	} else {
		lines = append(lines, "*"+l10n.T(lang, l10n.WeightField)+"*: "+formatWeight(pkg.Weight)+" "+pounds)
	}

	check := ""
	if pkg.Status.Percentage == model.NearlyCompletePercentage {
		check = " ✅"
	}
	if prev.Status != pkg.Status {
		lines = append(lines, "*"+l10n.T(lang, l10n.StatusField)+"*: "+prev.Status.Description+" → "+pkg.Status.Description+", _"+pkg.Status.Percentage+"_"+check)
	} else {
		lines = append(lines, "*"+l10n.T(lang, l10n.StatusField)+"*: "+pkg.Status.Description+", _"+pkg.Status.Percentage+"_"+check)
	}
	return lines
}

// PackageCard renders a single package for inline query answers.
func (r *Renderer) PackageCard(lang string, pkg model.Package) string {
	return strings.Join(r.packageLines(lang, pkg, nil, true), "\n")
}

// Split breaks a rendered digest into sendable chunks: first at every forced
// separator, then at the last blank line before maxLen for anything still too
// long, then at the last single newline, and only as a last resort at a hard
// byte cut backed up to a rune boundary.
func (r *Renderer) Split(message string, maxLen int) []string {
	if idx := strings.Index(message, separator); idx >= 0 {
		head := strings.TrimSuffix(message[:idx], "\n")
		rest := strings.TrimPrefix(message[idx+len(separator):], "\n")
		return append([]string{head}, r.Split(rest, maxLen)...)
	}
	if len(message) > maxLen {
		idx := strings.LastIndex(message[:maxLen], "\n\n")
		skip := 2
		if idx <= 0 {
			idx = strings.LastIndex(message[:maxLen], "\n")
			skip = 1
		}
		if idx <= 0 {
			idx = maxLen
			for idx > 0 && !utf8.RuneStart(message[idx]) {
				idx--
			}
			if idx == 0 {
				idx = maxLen
			}
			skip = 0
		}
		head := message[:idx]
		rest := message[idx+skip:]
		return append([]string{head}, r.Split(rest, maxLen)...)
	}
	return []string{message}
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
