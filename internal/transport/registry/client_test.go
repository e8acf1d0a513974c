package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	os.Exit(m.Run())
}

const samplePage = `{
  "totalRecords": 412,
  "limit": 2,
  "offset": 0,
  "opportunitiesData": [
    {
      "noticeId": "abc123",
      "title": " Enterprise Cloud Migration ",
      "solicitationNumber": "W91-24-R-0001",
      "fullParentPathName": "DEPT OF DEFENSE.DEPT OF THE ARMY",
      "postedDate": "2024-03-01",
      "type": "Solicitation",
      "baseType": "Solicitation",
      "archiveDate": "2024-06-01",
      "responseDeadLine": "2024-04-15T17:00:00-04:00",
      "typeOfSetAside": "SBA",
      "typeOfSetAsideDescription": "Total Small Business Set-Aside",
      "naicsCode": "541512",
      "classificationCode": "D302",
      "active": "Yes",
      "description": "https://api.sam.gov/prod/opportunities/v1/noticedesc?noticeid=abc123",
      "pointOfContact": [
        {"type": "primary", "fullName": "Pat Doe", "title": "CO", "email": "pat@example.gov", "phone": "555-0100"}
      ],
      "placeOfPerformance": {
        "city": {"code": "12345", "name": "Arlington"},
        "state": {"code": "VA", "name": "Virginia"},
        "zip": "22201",
        "country": {"code": "USA", "name": "UNITED STATES"}
      },
      "officeAddress": {"city": "Fort Belvoir", "state": "VA", "zipcode": "22060", "countryCode": "USA"},
      "uiLink": "https://sam.gov/opp/abc123/view",
      "resourceLinks": ["https://sam.gov/a.pdf", ""]
    },
    {
      "noticeId": "def456",
      "title": "Janitorial Services",
      "active": "No",
      "responseDeadLine": null,
      "placeOfPerformance": null
    }
  ]
}`

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{BaseURL: srv.URL + "/opportunities/v2/search", RequestsPerSecond: 100, Burst: 100})
}

func TestSearch_TranslatesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/opportunities/v2/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("api_key") != "reg-key" {
			t.Errorf("api_key = %q", q.Get("api_key"))
		}
		if q.Get("ncode") != "541512" || q.Get("limit") != "2" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	params := url.Values{"ncode": {"541512"}, "limit": {"2"}}
	listing, err := newTestClient(srv).Search(context.Background(), params, "reg-key")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if params.Has("api_key") {
		t.Error("Search must not mutate the caller's params")
	}
	if listing.TotalRecords != 412 {
		t.Errorf("TotalRecords = %d", listing.TotalRecords)
	}
	if len(listing.Opportunities) != 2 {
		t.Fatalf("len = %d", len(listing.Opportunities))
	}

	o := listing.Opportunities[0]
	if o.NoticeID != "abc123" || o.Title != "Enterprise Cloud Migration" {
		t.Errorf("identity = %q / %q", o.NoticeID, o.Title)
	}
	if o.Agency != "DEPT OF DEFENSE.DEPT OF THE ARMY" {
		t.Errorf("Agency = %q", o.Agency)
	}
	if o.SetAside != "Total Small Business Set-Aside" || o.SetAsideCode != "SBA" {
		t.Errorf("set-aside = %q / %q", o.SetAside, o.SetAsideCode)
	}
	if !o.Active {
		t.Error("Active = false")
	}
	if len(o.Contacts) != 1 || o.Contacts[0].Email != "pat@example.gov" {
		t.Errorf("Contacts = %+v", o.Contacts)
	}
	if o.PlaceOfPerformance.City != "Arlington" || o.PlaceOfPerformance.State != "VA" || o.PlaceOfPerformance.Country != "USA" {
		t.Errorf("PlaceOfPerformance = %+v", o.PlaceOfPerformance)
	}
	if o.OfficeAddress.Zip != "22060" {
		t.Errorf("OfficeAddress = %+v", o.OfficeAddress)
	}
	if len(o.ResourceLinks) != 1 {
		t.Errorf("ResourceLinks = %v (empty links dropped)", o.ResourceLinks)
	}
	if o.RelevanceScore != 0 {
		t.Errorf("RelevanceScore = %v before ranking", o.RelevanceScore)
	}

	sparse := listing.Opportunities[1]
	if sparse.Active || sparse.ResponseDeadline != "" || sparse.PlaceOfPerformance.City != "" {
		t.Errorf("sparse notice = %+v", sparse)
	}
	if sparse.Contacts == nil || sparse.ResourceLinks == nil || sparse.Tags == nil {
		t.Error("collections must be empty, not nil")
	}
}

func TestSearch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	listing, err := newTestClient(srv).Search(context.Background(), url.Values{}, "k")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if listing.TotalRecords != 0 || len(listing.Opportunities) != 0 {
		t.Errorf("listing = %+v", listing)
	}
}

func TestSearch_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "invalid key",
			status:     http.StatusForbidden,
			body:       `{"error":{"code":"API_KEY_INVALID","message":"An invalid api_key was supplied."}}`,
			wantStatus: http.StatusForbidden,
			wantMsg:    "An invalid api_key was supplied.",
		},
		{
			name:       "bad request",
			status:     http.StatusBadRequest,
			body:       `{"errorCode":"400","errorMessage":"Invalid Date Entered."}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Invalid Date Entered.",
		},
		{
			name:       "server error plain body",
			status:     http.StatusInternalServerError,
			body:       `oops`,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "500 Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv).Search(context.Background(), url.Values{}, "k")
			var ue *domain.UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("expected *UpstreamError, got %v", err)
			}
			if ue.Status != tt.wantStatus || ue.Message != tt.wantMsg {
				t.Errorf("got %d %q, want %d %q", ue.Status, ue.Message, tt.wantStatus, tt.wantMsg)
			}
			if !errors.Is(err, domain.ErrUpstream) {
				t.Error("expected errors.Is(err, ErrUpstream)")
			}
		})
	}
}

func TestSearch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"opportunitiesData": [`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Search(context.Background(), url.Values{}, "k")
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 UpstreamError, got %v", err)
	}
}

func TestSearch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Search(context.Background(), url.Values{}, "k")
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 UpstreamError, got %v", err)
	}
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: base}).Search(context.Background(), url.Values{}, "k")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestParseActive(t *testing.T) {
	for in, want := range map[string]bool{"Yes": true, "yes": true, "true": true, "No": false, "": false} {
		if got := parseActive(in); got != want {
			t.Errorf("parseActive(%q) = %v, want %v", in, got, want)
		}
	}
}
