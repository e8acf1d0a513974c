// Package opportunity holds the registry listing as the rest of the service sees it.
package opportunity

import "strings"

// Contact is a point of contact published with a notice.
type Contact struct {
	Type     string `json:"type,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Title    string `json:"title,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Location is a postal location (office address or place of performance).
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

// Opportunity is a single registry listing.
//
// NoticeID is the upstream-assigned identity; it is unique within one result page
// but not enforced across pages. RelevanceScore is zero until the ranker assigns a
// cosine similarity. Favorite and Tags belong to the caller and are passed through.
type Opportunity struct {
	NoticeID           string    `json:"noticeId"`
	Title              string    `json:"title"`
	SolicitationNumber string    `json:"solicitationNumber,omitempty"`
	Description        string    `json:"description,omitempty"`
	Synopsis           string    `json:"synopsis,omitempty"`
	Agency             string    `json:"agency,omitempty"`
	NAICSCode          string    `json:"naicsCode,omitempty"`
	ClassificationCode string    `json:"classificationCode,omitempty"`
	NoticeType         string    `json:"noticeType,omitempty"`
	BaseType           string    `json:"baseType,omitempty"`
	SetAside           string    `json:"setAside,omitempty"`
	SetAsideCode       string    `json:"setAsideCode,omitempty"`
	Active             bool      `json:"active"`
	PostedDate         string    `json:"postedDate,omitempty"`
	ResponseDeadline   string    `json:"responseDeadline,omitempty"`
	ArchiveDate        string    `json:"archiveDate,omitempty"`
	Contacts           []Contact `json:"contacts"`
	PlaceOfPerformance Location  `json:"placeOfPerformance"`
	OfficeAddress      Location  `json:"officeAddress"`
	UILink             string    `json:"uiLink,omitempty"`
	ResourceLinks      []string  `json:"resourceLinks"`
	RelevanceScore     float64   `json:"relevanceScore"`
	Favorite           bool      `json:"favorite"`
	Tags               []string  `json:"tags"`
}

// SearchText is the text embedded for semantic ranking: title, description and
// synopsis joined by spaces, skipping empty parts.
func (o *Opportunity) SearchText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{o.Title, o.Description, o.Synopsis} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy of list so callers can reorder and rescore it
// without touching a cached page.
func Clone(list []Opportunity) []Opportunity {
	out := make([]Opportunity, len(list))
	for i := range list {
		out[i] = list[i]
		out[i].Contacts = cloneSlice(list[i].Contacts)
		out[i].ResourceLinks = cloneSlice(list[i].ResourceLinks)
		out[i].Tags = cloneSlice(list[i].Tags)
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Listing is one page as delivered by the registry, before ranking.
type Listing struct {
	Opportunities []Opportunity `json:"opportunities"`
	TotalRecords  int           `json:"totalRecords"`
}
