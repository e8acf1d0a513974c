// Package page assembles the paginated search result returned to clients.
package page

import (
	"cmp"
	"slices"

	"github.com/kailas-cloud/oppfinder/internal/domain/opportunity"
)

// Bucket is one facet value and the number of opportunities carrying it.
type Bucket struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets summarizes the returned page along the most common filter dimensions.
type Facets struct {
	NoticeTypes []Bucket `json:"noticeTypes"`
	SetAsides   []Bucket `json:"setAsides"`
	NAICSCodes  []Bucket `json:"naicsCodes"`
	Agencies    []Bucket `json:"agencies"`
}

// Page is one page of opportunities.
type Page struct {
	Opportunities []opportunity.Opportunity `json:"opportunities"`
	TotalRecords  int                       `json:"totalRecords"`
	Limit         int                       `json:"limit"`
	Offset        int                       `json:"offset"`
	Facets        Facets                    `json:"facets"`
}

// New builds a page, echoing the effective limit and offset and computing facets
// from the opportunities it holds.
func New(opps []opportunity.Opportunity, totalRecords, limit, offset int) Page {
	if opps == nil {
		opps = []opportunity.Opportunity{}
	}
	return Page{
		Opportunities: opps,
		TotalRecords:  totalRecords,
		Limit:         limit,
		Offset:        offset,
		Facets:        ComputeFacets(opps),
	}
}

// ComputeFacets counts notice types, set-asides, NAICS codes and agencies.
// Empty values are skipped. Buckets are ordered by count descending, then value.
func ComputeFacets(opps []opportunity.Opportunity) Facets {
	return Facets{
		NoticeTypes: count(opps, func(o *opportunity.Opportunity) string { return o.NoticeType }),
		SetAsides:   count(opps, func(o *opportunity.Opportunity) string { return o.SetAside }),
		NAICSCodes:  count(opps, func(o *opportunity.Opportunity) string { return o.NAICSCode }),
		Agencies:    count(opps, func(o *opportunity.Opportunity) string { return o.Agency }),
	}
}

func count(opps []opportunity.Opportunity, key func(*opportunity.Opportunity) string) []Bucket {
	counts := make(map[string]int)
	for i := range opps {
		if v := key(&opps[i]); v != "" {
			counts[v]++
		}
	}

	buckets := make([]Bucket, 0, len(counts))
	for v, n := range counts {
		buckets = append(buckets, Bucket{Value: v, Count: n})
	}
	slices.SortFunc(buckets, func(a, b Bucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return buckets
}
