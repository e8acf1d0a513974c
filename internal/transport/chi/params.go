package chi

import (
	"net"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/search/query"
	"github.com/kailas-cloud/oppfinder/internal/usecase/ratelimit"
	searchuc "github.com/kailas-cloud/oppfinder/internal/usecase/search"
)

// RegistryKeyHeader carries the caller's registry key when it is not in the query.
const RegistryKeyHeader = "X-Registry-Key"

// bindSearchRequest reads the flat query parameters into a search request.
// Malformed numbers are validation errors; malformed flags are ignored.
func bindSearchRequest(r *http.Request) (searchuc.Request, error) {
	q := r.URL.Query()

	raw := query.Raw{
		Keyword:              q.Get("keyword"),
		StartDate:            q.Get("startDate"),
		EndDate:              q.Get("endDate"),
		NAICS:                q.Get("naics"),
		ClassificationCode:   q.Get("classificationCode"),
		Jurisdiction:         q.Get("jurisdiction"),
		Agency:               q.Get("agency"),
		NoticeType:           q.Get("noticeType"),
		SetAside:             q.Get("setAside"),
		Active:               q.Get("active"),
		EntityName:           q.Get("entityName"),
		ContractVehicle:      q.Get("contractVehicle"),
		FundingSource:        q.Get("fundingSource"),
		ResponseDeadlineFrom: q.Get("responseDeadlineFrom"),
		ResponseDeadlineTo:   q.Get("responseDeadlineTo"),
	}

	typed := []struct {
		name string
		dest any
	}{
		{"limit", &raw.Limit},
		{"offset", &raw.Offset},
		{"minValue", &raw.MinValue},
		{"maxValue", &raw.MaxValue},
	}
	for _, p := range typed {
		if err := runtime.BindQueryParameter("form", true, false, p.name, q, p.dest); err != nil {
			return searchuc.Request{}, domain.NewValidationError("invalid format for parameter " + p.name)
		}
	}

	if v, ok := query.ParseFlag(q.Get("hasAttachments")); ok {
		raw.HasAttachments = &v
	}
	semantic, _ := query.ParseFlag(q.Get("semantic"))

	upstreamKey := q.Get("api_key")
	if upstreamKey == "" {
		upstreamKey = r.Header.Get(RegistryKeyHeader)
	}

	return searchuc.Request{
		Identity:       clientIdentity(r),
		Filters:        raw,
		UpstreamKey:    strings.TrimSpace(upstreamKey),
		Semantic:       semantic,
		SemanticQuery:  q.Get("semanticQuery"),
		Provider:       q.Get("provider"),
		EmbeddingCreds: domain.Credentials{APIKey: bearerToken(r)},
	}, nil
}

// clientIdentity prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return ratelimit.AnonymousIdentity
}

// bearerToken returns the token of an "Authorization: Bearer" header, or "".
func bearerToken(r *http.Request) string {
	const bearerPrefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) < len(bearerPrefix) || !strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(bearerPrefix):])
}
