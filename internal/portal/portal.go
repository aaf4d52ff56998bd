// Package portal holds read-only clients for the portal's own services that
// the assistant consults through tool calls.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Doctor is a directory entry.
type Doctor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Specialty string   `json:"specialty"`
	City      string   `json:"city,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Slot is an open appointment slot.
type Slot struct {
	DoctorID string `json:"doctor_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

// Client calls the doctor directory and appointment services.
type Client struct {
	directoryURL    string
	appointmentsURL string
	client          *http.Client
}

// NewClient creates a portal client. Either base URL may be empty, in which
// case the corresponding call fails.
func NewClient(directoryURL, appointmentsURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		directoryURL:    strings.TrimRight(directoryURL, "/"),
		appointmentsURL: strings.TrimRight(appointmentsURL, "/"),
		client:          client,
	}
}

// FindDoctors searches the directory by specialty and optional city.
func (c *Client) FindDoctors(ctx context.Context, specialty, city string) ([]Doctor, error) {
	if c.directoryURL == "" {
		return nil, fmt.Errorf("doctor directory not configured")
	}
	q := url.Values{"specialty": {specialty}}
	if city != "" {
		q.Set("city", city)
	}
	var out struct {
		Doctors []Doctor `json:"doctors"`
	}
	if err := c.getJSON(ctx, c.directoryURL+"/doctors?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("find doctors: %w", err)
	}
	return out.Doctors, nil
}

// Availability lists open slots for a doctor, optionally on one date
// (YYYY-MM-DD).
func (c *Client) Availability(ctx context.Context, doctorID, date string) ([]Slot, error) {
	if c.appointmentsURL == "" {
		return nil, fmt.Errorf("appointment service not configured")
	}
	u := c.appointmentsURL + "/doctors/" + url.PathEscape(doctorID) + "/availability"
	if date != "" {
		u += "?" + url.Values{"date": {date}}.Encode()
	}
	var out struct {
		Slots []Slot `json:"slots"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("availability: %w", err)
	}
	return out.Slots, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err = json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
