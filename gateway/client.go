// Package gateway is the HTTP client for the conversation backend. The
// backend is an opaque collaborator: everything it does (transcription,
// reasoning, speech synthesis, booking) sits behind two calls.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"github.com/smilecare/voice-reception/messages"
)

// ErrStatus is returned when the backend answers with a non-2xx status.
var ErrStatus = errors.New("backend returned error status")

// IntentBookAppointment is the intent tag the backend emits when the
// dialogue resulted in a booking.
const IntentBookAppointment = "book_appointment"

// GreetingResult is the response of GET /conversation/greeting.
type GreetingResult struct {
	AudioURL string `json:"audio_url"`
	Text     string `json:"text,omitempty"`
}

// VoiceMetadata carries booking details extracted by the backend.
type VoiceMetadata struct {
	Email string `json:"email,omitempty"`
}

// VoiceResult is the response of POST /conversation/process-voice.
type VoiceResult struct {
	SessionID         string         `json:"session_id,omitempty"`
	UserText          string         `json:"user_text,omitempty"`
	AssistantText     string         `json:"assistant_text,omitempty"`
	AudioURL          string         `json:"audio_url"`
	Intent            string         `json:"intent,omitempty"`
	AppointmentBooked bool           `json:"appointment_booked,omitempty"`
	Metadata          *VoiceMetadata `json:"metadata,omitempty"`
	Email             string         `json:"email,omitempty"`
}

// BookingRequested reports whether the backend signalled a booking, via
// either the intent tag or the explicit flag.
func (r *VoiceResult) BookingRequested() bool {
	return r.Intent == IntentBookAppointment || r.AppointmentBooked
}

// RecipientEmail returns the confirmation address: metadata.email first,
// falling back to the top-level email field.
func (r *VoiceResult) RecipientEmail() string {
	if r.Metadata != nil && r.Metadata.Email != "" {
		return r.Metadata.Email
	}
	return r.Email
}

// Appointment is one row of GET /appointments/list, consumed by the external
// appointment-list collaborator.
type Appointment struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Service   string `json:"service"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Dentist   string `json:"dentist"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	BookedAt  string `json:"booked_at"`
}

type appointmentList struct {
	Appointments []Appointment `json:"appointments"`
}

// Client talks to the conversation backend over HTTP.
type Client struct {
	baseURL    string // e.g. http://localhost:8000/api
	origin     string // scheme://host, used to resolve relative audio URLs
	httpClient *http.Client
}

// NewClient creates a backend client. baseURL is the API root, e.g.
// "http://localhost:8000/api"; relative audio_url values resolve against its
// origin.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", baseURL)
	}

	return &Client{
		baseURL:    baseURL,
		origin:     parsed.Scheme + "://" + parsed.Host,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Greeting fetches the opening assistant utterance for the session.
func (c *Client) Greeting(ctx context.Context, sessionID string) (*GreetingResult, error) {
	endpoint := fmt.Sprintf("%s/conversation/greeting?session_id=%s", c.baseURL, url.QueryEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result GreetingResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	result.AudioURL = c.ResolveURL(result.AudioURL)
	return &result, nil
}

// ProcessVoice submits a recorded clip and returns the structured dialogue
// result. The clip travels as the single "audio" field of a multipart body.
func (c *Client) ProcessVoice(ctx context.Context, sessionID string, clip *messages.Clip) (*VoiceResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(clip.Bytes()); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/conversation/process-voice?session_id=%s", c.baseURL, url.QueryEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result VoiceResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	result.AudioURL = c.ResolveURL(result.AudioURL)
	return &result, nil
}

// ListAppointments fetches the booked appointments. The session core never
// calls this; it exists for the appointment-list collaborator reacting to
// the refresh signal.
func (c *Client) ListAppointments(ctx context.Context) ([]Appointment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/appointments/list", nil)
	if err != nil {
		return nil, err
	}

	var result appointmentList
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return result.Appointments, nil
}

// ResolveURL makes a backend audio reference absolute. Relative paths
// resolve against the backend origin; absolute URLs pass through.
func (c *Client) ResolveURL(audioURL string) string {
	if audioURL == "" {
		return ""
	}
	parsed, err := url.Parse(audioURL)
	if err != nil {
		return audioURL
	}
	if parsed.IsAbs() {
		return audioURL
	}
	if audioURL[0] != '/' {
		audioURL = "/" + audioURL
	}
	return c.origin + audioURL
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s -> %d", ErrStatus, req.Method, req.URL.Path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, out)
}
