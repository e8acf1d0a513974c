// Package query normalizes inbound search filters into the registry's parameter dialect.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/kailas-cloud/oppfinder/internal/domain"
)

// Pagination and date-window defaults.
const (
	DefaultLimit = 50
	// MaxLimit is the largest page the registry serves.
	MaxLimit          = 100
	DefaultWindowDays = 30

	// DateLayout is the registry's native date format.
	DateLayout    = "01/02/2006"
	isoDateLayout = "2006-01-02"
)

// Registry parameter names.
const (
	ParamTitle              = "title"
	ParamPostedFrom         = "postedFrom"
	ParamPostedTo           = "postedTo"
	ParamNAICS              = "ncode"
	ParamClassificationCode = "ccode"
	ParamState              = "state"
	ParamDepartment         = "deptname"
	ParamNoticeType         = "ptype"
	ParamSetAside           = "typeOfSetAside"
	ParamStatus             = "status"
	ParamOrganizationName   = "organizationName"
	ParamDeadlineFrom       = "rdlfrom"
	ParamDeadlineTo         = "rdlto"
	ParamContractVehicle    = "contractVehicle"
	ParamFundingSource      = "fundingSource"
	ParamValueFrom          = "estimatedValueFrom"
	ParamValueTo            = "estimatedValueTo"
	ParamHasResources       = "hasResources"
	ParamLimit              = "limit"
	ParamOffset             = "offset"
)

// noticeTypeCodes maps readable notice type names to registry ptype codes.
var noticeTypeCodes = map[string]string{
	"presolicitation":       "p",
	"solicitation":          "o",
	"combined":              "k",
	"combined synopsis":     "k",
	"sources sought":        "r",
	"special notice":        "s",
	"award":                 "a",
	"award notice":          "a",
	"justification":         "u",
	"sale of surplus":       "g",
	"intent to bundle":      "i",
	"surplus property sale": "g",
}

// Raw is the open filter set exactly as a client supplied it.
// Empty strings and nil pointers mean "not supplied".
type Raw struct {
	Keyword              string
	StartDate            string
	EndDate              string
	NAICS                string
	ClassificationCode   string
	Jurisdiction         string
	Agency               string
	NoticeType           string
	SetAside             string
	Active               string
	Limit                *int
	Offset               *int
	EntityName           string
	ContractVehicle      string
	FundingSource        string
	ResponseDeadlineFrom string
	ResponseDeadlineTo   string
	MinValue             *float64
	MaxValue             *float64
	HasAttachments       *bool
}

// Canonical is the immutable normalized filter set.
type Canonical struct {
	params  url.Values
	keyword string
	limit   int
	offset  int
}

// Normalize maps raw filters to the registry dialect. Unparsable dates are dropped,
// inverted date ranges are swapped and pagination is clamped. The only failure is a
// value range whose minimum exceeds its maximum.
// now anchors the default posted-date window.
func Normalize(raw Raw, now time.Time) (Canonical, error) {
	if raw.MinValue != nil && raw.MaxValue != nil && *raw.MinValue > *raw.MaxValue {
		return Canonical{}, domain.NewValidationError("minValue must not exceed maxValue")
	}

	p := url.Values{}

	keyword := strings.TrimSpace(raw.Keyword)
	setIf(p, ParamTitle, keyword)

	from, to := postedWindow(raw.StartDate, raw.EndDate, now)
	p.Set(ParamPostedFrom, from.Format(DateLayout))
	p.Set(ParamPostedTo, to.Format(DateLayout))

	setIf(p, ParamNAICS, strings.TrimSpace(raw.NAICS))
	setIf(p, ParamClassificationCode, strings.ToUpper(strings.TrimSpace(raw.ClassificationCode)))
	setIf(p, ParamState, strings.ToUpper(strings.TrimSpace(raw.Jurisdiction)))
	setIf(p, ParamDepartment, strings.TrimSpace(raw.Agency))
	setIf(p, ParamNoticeType, noticeTypes(raw.NoticeType))
	setIf(p, ParamSetAside, strings.TrimSpace(raw.SetAside))
	if active, ok := ParseFlag(raw.Active); ok && active {
		p.Set(ParamStatus, "active")
	}

	setIf(p, ParamOrganizationName, strings.TrimSpace(raw.EntityName))
	setIf(p, ParamContractVehicle, strings.TrimSpace(raw.ContractVehicle))
	setIf(p, ParamFundingSource, strings.TrimSpace(raw.FundingSource))

	dlFrom, okFrom := CoerceDate(raw.ResponseDeadlineFrom)
	dlTo, okTo := CoerceDate(raw.ResponseDeadlineTo)
	if okFrom && okTo && dlFrom.After(dlTo) {
		dlFrom, dlTo = dlTo, dlFrom
	}
	if okFrom {
		p.Set(ParamDeadlineFrom, dlFrom.Format(DateLayout))
	}
	if okTo {
		p.Set(ParamDeadlineTo, dlTo.Format(DateLayout))
	}

	if raw.MinValue != nil {
		p.Set(ParamValueFrom, strconv.FormatFloat(*raw.MinValue, 'f', -1, 64))
	}
	if raw.MaxValue != nil {
		p.Set(ParamValueTo, strconv.FormatFloat(*raw.MaxValue, 'f', -1, 64))
	}
	if raw.HasAttachments != nil {
		p.Set(ParamHasResources, strconv.FormatBool(*raw.HasAttachments))
	}

	limit := DefaultLimit
	if raw.Limit != nil && *raw.Limit > 0 {
		limit = min(*raw.Limit, MaxLimit)
	}
	offset := 0
	if raw.Offset != nil && *raw.Offset > 0 {
		offset = *raw.Offset
	}
	p.Set(ParamLimit, strconv.Itoa(limit))
	p.Set(ParamOffset, strconv.Itoa(offset))

	return Canonical{params: p, keyword: keyword, limit: limit, offset: offset}, nil
}

// Params returns a copy of the registry query parameters.
func (c Canonical) Params() url.Values {
	out := make(url.Values, len(c.params))
	for k, v := range c.params {
		out[k] = slices.Clone(v)
	}
	return out
}

// Keyword returns the trimmed keyword ("" when absent).
func (c Canonical) Keyword() string { return c.keyword }

// Limit returns the clamped page size.
func (c Canonical) Limit() int { return c.limit }

// Offset returns the page offset.
func (c Canonical) Offset() int { return c.offset }

// Fingerprint is the hex SHA-256 of the encoded parameters. url.Values.Encode
// sorts by key, so the order in which filters were supplied does not matter.
func (c Canonical) Fingerprint() string {
	h := sha256.Sum256([]byte(c.params.Encode()))
	return hex.EncodeToString(h[:])
}

// CoerceDate accepts YYYY-MM-DD, MM/DD/YYYY, or anything dateparse recognizes.
// ok is false for empty or unparsable input.
func CoerceDate(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{isoDateLayout, DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseFlag reads a boolean-ish filter value. ok is false when s is empty or unrecognized.
func ParseFlag(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true, true
	case "false", "0", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

// postedWindow resolves the posted-date range. A missing end defaults to today,
// a missing start to end minus DefaultWindowDays.
func postedWindow(start, end string, now time.Time) (from, to time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	to, ok := CoerceDate(end)
	if !ok {
		to = today
	}
	from, ok = CoerceDate(start)
	if !ok {
		from = to.AddDate(0, 0, -DefaultWindowDays)
	}
	if from.After(to) {
		from, to = to, from
	}
	return from, to
}

// noticeTypes maps a comma-separated list of names or codes to sorted, unique codes.
func noticeTypes(s string) string {
	var codes []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if code, ok := noticeTypeCodes[part]; ok {
			part = code
		}
		codes = append(codes, part)
	}
	slices.Sort(codes)
	return strings.Join(slices.Compact(codes), ",")
}

func setIf(p url.Values, key, value string) {
	if value != "" {
		p.Set(key, value)
	}
}
