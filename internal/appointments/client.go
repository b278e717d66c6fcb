// Package appointments talks to the clinic's appointment service, the
// collaborator that owns durable appointment records. Only the booking flow
// calls it, and only after a reservation was confirmed.
package appointments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/clinovet/reserve-api/internal/app"
	"github.com/clinovet/reserve-api/internal/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createRequest struct {
	TenantID      string `json:"tenant_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	ResourceID    string `json:"resource_id,omitempty"`
	ClientID      string `json:"client_id"`
	PatientID     string `json:"patient_id"`
	ServiceID     string `json:"service_id"`
	Notes         string `json:"notes,omitempty"`
	ReservationID string `json:"reservation_id"`
}

type createResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateAppointment(ctx context.Context, res domain.Reservation, details app.AppointmentDetails) (string, error) {
	body, err := json.Marshal(createRequest{
		TenantID:      res.Slot.TenantID,
		Date:          res.Slot.Date,
		Time:          res.Slot.Time,
		ResourceID:    res.Slot.ResourceID,
		ClientID:      details.ClientID,
		PatientID:     details.PatientID,
		ServiceID:     details.ServiceID,
		Notes:         details.Notes,
		ReservationID: res.ID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal appointment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/appointments", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build appointment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call appointment service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("appointment service returned %d", resp.StatusCode)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode appointment response: %w", err)
	}
	return out.ID, nil
}

// LogOnly stands in when no appointment service is configured: it accepts
// every hand-off and leaves appointment creation to whoever consumes the
// confirmed event.
type LogOnly struct {
	logger *log.Logger
}

func NewLogOnly(logger *log.Logger) *LogOnly {
	if logger == nil {
		logger = log.Default()
	}
	return &LogOnly{logger: logger}
}

func (l *LogOnly) CreateAppointment(_ context.Context, res domain.Reservation, _ app.AppointmentDetails) (string, error) {
	l.logger.Printf("no appointment service configured, reservation %s confirmed without hand-off", res.ID)
	return "", nil
}
