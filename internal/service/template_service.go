// internal/service/template_service.go
package service

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

// Placeholder is a recognized {{identifier}} in campaign content.
type Placeholder int

const (
	PlaceholderName Placeholder = iota
	PlaceholderFirstName
	PlaceholderLastName
	PlaceholderEmail
	PlaceholderCompany
	PlaceholderDomain
)

// FallbackGreeting stands in for a first name that cannot be derived.
const FallbackGreeting = "there"

var placeholderNames = map[string]Placeholder{
	"name":      PlaceholderName,
	"firstname": PlaceholderFirstName,
	"lastname":  PlaceholderLastName,
	"email":     PlaceholderEmail,
	"company":   PlaceholderCompany,
	"domain":    PlaceholderDomain,
}

// ParsePlaceholder resolves an identifier case-insensitively.
func ParsePlaceholder(ident string) (Placeholder, bool) {
	p, ok := placeholderNames[strings.ToLower(ident)]
	return p, ok
}

// Variables holds the value of every placeholder for one recipient.
type Variables struct {
	Name      string
	FirstName string
	LastName  string
	Email     string
	Company   string
	Domain    string
}

// Lookup returns the value for p.
func (v Variables) Lookup(p Placeholder) string {
	switch p {
	case PlaceholderName:
		return v.Name
	case PlaceholderFirstName:
		return v.FirstName
	case PlaceholderLastName:
		return v.LastName
	case PlaceholderEmail:
		return v.Email
	case PlaceholderCompany:
		return v.Company
	case PlaceholderDomain:
		return v.Domain
	}
	return ""
}

var localPartSeparators = regexp.MustCompile(`[._\-\d]`)

// BuildVariables resolves placeholder values for recipient. A contact
// supplies name and company; without one, a first name is guessed from the
// local part of the address.
func BuildVariables(recipient string, contact *model.Contact) Variables {
	local, domain := recipient, ""
	if at := strings.Index(recipient, "@"); at >= 0 {
		local, domain = recipient[:at], recipient[at+1:]
	}

	v := Variables{
		Name:      FallbackGreeting,
		FirstName: FallbackGreeting,
		Email:     recipient,
		Domain:    domain,
	}

	if contact != nil {
		v.Company = contact.Company
	}

	if contact != nil && strings.TrimSpace(contact.Name) != "" {
		parts := strings.Fields(contact.Name)
		v.Name = contact.Name
		v.FirstName = parts[0]
		v.LastName = strings.Join(parts[1:], " ")
		return v
	}

	guess := localPartSeparators.Split(local, 2)[0]
	if len([]rune(guess)) > 2 {
		v.FirstName = titleCase(guess)
		v.Name = v.FirstName
	}
	return v
}

func titleCase(s string) string {
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes recognized placeholders. Unknown ones stay verbatim.
func Render(text string, vars Variables) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		ident := match[2 : len(match)-2]
		p, ok := ParsePlaceholder(ident)
		if !ok {
			return match
		}
		return vars.Lookup(p)
	})
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags derives a plaintext body from HTML.
func StripTags(html string) string {
	return tagPattern.ReplaceAllString(html, "")
}
