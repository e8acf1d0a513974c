package registry

import (
	"strings"

	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
)

// searchResponse is the registry's search payload. Every field is optional.
type searchResponse struct {
	TotalRecords      int      `json:"totalRecords"`
	Limit             int      `json:"limit"`
	Offset            int      `json:"offset"`
	OpportunitiesData []notice `json:"opportunitiesData"`
}

type notice struct {
	NoticeID                  string           `json:"noticeId"`
	Title                     string           `json:"title"`
	SolicitationNumber        string           `json:"solicitationNumber"`
	FullParentPathName        string           `json:"fullParentPathName"`
	Department                string           `json:"department"`
	Description               string           `json:"description"`
	Synopsis                  string           `json:"synopsis"`
	PostedDate                string           `json:"postedDate"`
	Type                      string           `json:"type"`
	BaseType                  string           `json:"baseType"`
	ArchiveDate               string           `json:"archiveDate"`
	ResponseDeadLine          string           `json:"responseDeadLine"`
	TypeOfSetAside            string           `json:"typeOfSetAside"`
	TypeOfSetAsideDescription string           `json:"typeOfSetAsideDescription"`
	NAICSCode                 string           `json:"naicsCode"`
	ClassificationCode        string           `json:"classificationCode"`
	Active                    string           `json:"active"`
	PointOfContact            []pointOfContact `json:"pointOfContact"`
	PlaceOfPerformance        *placeOfPerf     `json:"placeOfPerformance"`
	OfficeAddress             *officeAddress   `json:"officeAddress"`
	UILink                    string           `json:"uiLink"`
	ResourceLinks             []string         `json:"resourceLinks"`
}

type pointOfContact struct {
	Type     string `json:"type"`
	FullName string `json:"fullName"`
	Title    string `json:"title"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

type codeName struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type placeOfPerf struct {
	City    *codeName `json:"city"`
	State   *codeName `json:"state"`
	Zip     string    `json:"zip"`
	Country *codeName `json:"country"`
}

type officeAddress struct {
	City        string `json:"city"`
	State       string `json:"state"`
	Zipcode     string `json:"zipcode"`
	CountryCode string `json:"countryCode"`
}

func (r *searchResponse) toListing() opportunity.Listing {
	opps := make([]opportunity.Opportunity, 0, len(r.OpportunitiesData))
	for i := range r.OpportunitiesData {
		opps = append(opps, r.OpportunitiesData[i].toOpportunity())
	}
	total := r.TotalRecords
	if total < len(opps) {
		total = len(opps)
	}
	return opportunity.Listing{Opportunities: opps, TotalRecords: total}
}

func (n *notice) toOpportunity() opportunity.Opportunity {
	agency := n.FullParentPathName
	if agency == "" {
		agency = n.Department
	}
	setAside := n.TypeOfSetAsideDescription
	if setAside == "" {
		setAside = n.TypeOfSetAside
	}

	o := opportunity.Opportunity{
		NoticeID:           n.NoticeID,
		Title:              strings.TrimSpace(n.Title),
		SolicitationNumber: n.SolicitationNumber,
		Description:        n.Description,
		Synopsis:           n.Synopsis,
		Agency:             agency,
		NAICSCode:          n.NAICSCode,
		ClassificationCode: n.ClassificationCode,
		NoticeType:         n.Type,
		BaseType:           n.BaseType,
		SetAside:           setAside,
		SetAsideCode:       n.TypeOfSetAside,
		Active:             parseActive(n.Active),
		PostedDate:         n.PostedDate,
		ResponseDeadline:   n.ResponseDeadLine,
		ArchiveDate:        n.ArchiveDate,
		Contacts:           make([]opportunity.Contact, 0, len(n.PointOfContact)),
		UILink:             n.UILink,
		ResourceLinks:      make([]string, 0, len(n.ResourceLinks)),
		Tags:               []string{},
	}

	for _, c := range n.PointOfContact {
		o.Contacts = append(o.Contacts, opportunity.Contact(c))
	}
	for _, l := range n.ResourceLinks {
		if l != "" {
			o.ResourceLinks = append(o.ResourceLinks, l)
		}
	}
	if p := n.PlaceOfPerformance; p != nil {
		o.PlaceOfPerformance = opportunity.Location{
			City:    p.City.name(),
			State:   p.State.code(),
			Zip:     p.Zip,
			Country: p.Country.code(),
		}
	}
	if a := n.OfficeAddress; a != nil {
		o.OfficeAddress = opportunity.Location{
			City:    a.City,
			State:   a.State,
			Zip:     a.Zipcode,
			Country: a.CountryCode,
		}
	}
	return o
}

func (c *codeName) code() string {
	if c == nil {
		return ""
	}
	if c.Code != "" {
		return c.Code
	}
	return c.Name
}

func (c *codeName) name() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Code
}

func parseActive(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y", "1":
		return true
	default:
		return false
	}
}
