package model

import "time"

// Package is one shipment record scraped from the portal.
type Package struct {
	Identifier  string        `json:"identifier"`
	Username    string        `json:"username"`
	Tracking    string        `json:"tracking"`
	Description string        `json:"description"`
	Weight      float64       `json:"weight"`
	Status      PackageStatus `json:"status"`
	DeliveredAt time.Time     `json:"deliveredAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// PackageStatus pairs the portal's textual state with its progress percentage.
type PackageStatus struct {
	Description string `json:"description"`
	Percentage  string `json:"percentage"`
}

// StatusDelivered is the terminal status forced onto packages that drop off
// the portal listing.
var StatusDelivered = PackageStatus{Description: "Entregado", Percentage: "100%"}

// NearlyCompletePercentage marks a status worth flagging in notifications.
const NearlyCompletePercentage = "90%"

// Equal reports structural equality over the fields that participate in
// change detection. DeliveredAt and UpdatedAt are deliberately excluded.
func (p Package) Equal(o Package) bool {
	return p.Identifier == o.Identifier &&
		p.Description == o.Description &&
		p.Tracking == o.Tracking &&
		p.Status == o.Status &&
		p.Weight == o.Weight
}

// ChangeSet is the result of diffing one fetch against the prior snapshot.
// It is consumed immediately by persistence and fan-out, never stored.
type ChangeSet struct {
	Updates  []Package
	Deletes  []Package
	Previous map[string]Package
}

// Empty reports whether the cycle produced no observable change.
func (c ChangeSet) Empty() bool { return len(c.Updates) == 0 && len(c.Deletes) == 0 }

// PackageHistory is one append-only change-log row for a package.
type PackageHistory struct {
	ID         string        `json:"id"`
	PackageID  string        `json:"packageId"`
	Status     PackageStatus `json:"status"`
	Weight     float64       `json:"weight"`
	RecordedAt time.Time     `json:"recordedAt"`
}

// LoggedUser is a primary account: the registrant who supplied portal
// credentials. Password and Salt hold the vault ciphertext, never plaintext.
type LoggedUser struct {
	Identifier        int64           `json:"identifier"`
	ChatIdentifier    int64           `json:"chatIdentifier"`
	FirstName         string          `json:"firstName"`
	LanguageCode      string          `json:"languageCode"`
	Username          string          `json:"username"`
	Password          string          `json:"password"`
	Salt              string          `json:"salt"`
	AuthorizedUsers   []SecondaryUser `json:"authorizedUsers,omitempty"`
	UnauthorizedUsers []SecondaryUser `json:"unauthorizedUsers,omitempty"`
}

// SecondaryUser is a chat delegated read access to a primary account's
// packages. It exists only embedded under a LoggedUser.
type SecondaryUser struct {
	Identifier     int64  `json:"identifier"`
	ChatIdentifier int64  `json:"chatIdentifier"`
	FirstName      string `json:"firstName"`
	LanguageCode   string `json:"languageCode"`
}

// IsAuthorized reports whether id appears in the user's authorized set.
func (u *LoggedUser) IsAuthorized(id int64) bool {
	for _, s := range u.AuthorizedUsers {
		if s.Identifier == id {
			return true
		}
	}
	return false
}

// SessionScope names the conversational flow a chat session is driving.
type SessionScope string

const (
	ScopeLogin        SessionScope = "login"
	ScopeLoginAttempt SessionScope = "login-attempt"
	ScopeStop         SessionScope = "stop"
)

// SessionMessage records one transport message exchanged during a flow so it
// can be deleted from the chat once the flow resolves.
type SessionMessage struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ChatSession is the short-lived per-chat state of a multi-step flow. One
// active session per chat; a new flow overwrites the scope rather than
// stacking.
type ChatSession struct {
	ChatIdentifier int64            `json:"chatIdentifier"`
	UserIdentifier int64            `json:"userIdentifier"`
	Scope          SessionScope     `json:"scope"`
	Messages       []SessionMessage `json:"messages,omitempty"`
	AttemptingUser *SecondaryUser   `json:"attemptingUser,omitempty"`
	LastUpdateAt   time.Time        `json:"lastUpdateAt"`
}
