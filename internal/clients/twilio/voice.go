package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/yungbote/dialbridge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/dialbridge-backend/internal/pkg/envutil"
	"github.com/yungbote/dialbridge-backend/internal/pkg/httpx"
	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
)

type Config struct {
	AccountSID        string
	AuthToken         string
	APIKey            string
	APIKeySecret      string
	BaseURL           string
	FromNumber        string
	StatusCallbackURL string
	Timeout           time.Duration
	MaxRetries        int
}

func ConfigFromEnv() Config {
	return Config{
		AccountSID:        strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		AuthToken:         strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		APIKey:            strings.TrimSpace(os.Getenv("TWILIO_API_KEY")),
		APIKeySecret:      strings.TrimSpace(os.Getenv("TWILIO_API_KEY_SECRET")),
		BaseURL:           strings.TrimSpace(os.Getenv("TWILIO_BASE_URL")),
		FromNumber:        strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		StatusCallbackURL: strings.TrimSpace(os.Getenv("TWILIO_STATUS_CALLBACK_URL")),
		Timeout:           envutil.Seconds("TWILIO_TIMEOUT_SECONDS", 30*time.Second),
		MaxRetries:        envutil.Int("TWILIO_MAX_RETRIES", 4),
	}
}

func NewFromEnv(log *logger.Logger) (telephony.Gateway, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (telephony.Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("missing TWILIO_ACCOUNT_SID")
	}
	if cfg.APIKey != "" {
		if cfg.APIKeySecret == "" {
			return nil, fmt.Errorf("missing TWILIO_API_KEY_SECRET (required when TWILIO_API_KEY is set)")
		}
	} else if cfg.AuthToken == "" {
		return nil, fmt.Errorf("missing TWILIO_AUTH_TOKEN (or provide TWILIO_API_KEY + TWILIO_API_KEY_SECRET)")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("missing TWILIO_FROM_NUMBER")
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}

	return &gateway{
		log:        log.With("client", "TwilioVoice"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type gateway struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

type callResource struct {
	SID    string `json:"sid,omitempty"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	Status string `json:"status,omitempty"`
}

type transcriptionResource struct {
	Transcriptions []struct {
		SID               string `json:"sid"`
		Status            string `json:"status"`
		TranscriptionText string `json:"transcription_text"`
	} `json:"transcriptions"`
}

// Twilio error codes that mean the destination itself is bad. Not retryable
// no matter how much budget the call has left.
var invalidNumberCodes = map[int]bool{
	21211: true, // invalid To number
	21214: true, // To number not reachable
	21217: true, // number not dialable from this account
	13224: true, // dial: invalid phone number
}

// PlaceCall issues exactly one create-call request. No internal retry: a call
// that may already be ringing must not be placed twice, so retry is owned by
// the dispatch layer which tracks attempts per call.
func (g *gateway) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (string, error) {
	to := strings.TrimSpace(req.PhoneNumber)
	if to == "" {
		return "", fmt.Errorf("%w: empty phone number", telephony.ErrInvalidNumber)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", g.cfg.FromNumber)
	form.Set("Twiml", scriptTwiml(req.ScriptTemplate))
	cb := strings.TrimSpace(req.CallbackURL)
	if cb == "" {
		cb = g.cfg.StatusCallbackURL
	}
	if cb != "" {
		form.Set("StatusCallback", cb)
		form.Add("StatusCallbackEvent", "completed")
		form.Add("StatusCallbackEvent", "no-answer")
	}
	form.Set("Record", "true")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", g.cfg.BaseURL, g.cfg.AccountSID)
	call, _, err := doForm[callResource](g, ctx, "POST", endpoint, form)
	if err != nil {
		return "", g.classify(err)
	}
	if strings.TrimSpace(call.SID) == "" {
		return "", fmt.Errorf("%w: create call returned no sid", telephony.ErrProviderUnavailable)
	}
	return call.SID, nil
}

// FetchTranscript reads the transcription attached to a completed call's
// recording. Unlike PlaceCall this is idempotent, so transient failures are
// retried in place.
func (g *gateway) FetchTranscript(ctx context.Context, providerCallRef, recordingURL string) (string, error) {
	if strings.TrimSpace(providerCallRef) == "" {
		return "", fmt.Errorf("providerCallRef required")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s/Transcriptions.json", g.cfg.BaseURL, g.cfg.AccountSID, providerCallRef)
	backoff := 1 * time.Second

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		out, resp, err := doForm[transcriptionResource](g, ctx, "GET", endpoint, nil)
		if err == nil {
			for _, tr := range out.Transcriptions {
				if strings.TrimSpace(tr.TranscriptionText) != "" {
					return tr.TranscriptionText, nil
				}
			}
			return "", fmt.Errorf("no transcription available for call %s", providerCallRef)
		}

		if !httpx.IsRetryableError(err) || attempt == g.cfg.MaxRetries {
			return "", g.classify(err)
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		g.log.Warn("Twilio transcript fetch retrying",
			"call_sid", providerCallRef,
			"attempt", attempt+1,
			"max_retries", g.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return "", fmt.Errorf("unreachable retry loop")
}

// classify maps a raw HTTP/API failure onto the gateway sentinels.
func (g *gateway) classify(err error) error {
	var he *HTTPError
	if errors.As(err, &he) {
		if he.APIError != nil && invalidNumberCodes[he.APIError.Code] {
			return fmt.Errorf("%w: %v", telephony.ErrInvalidNumber, err)
		}
		if he.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", telephony.ErrRateLimited, err)
		}
		if he.StatusCode >= 400 && he.StatusCode < 500 {
			return fmt.Errorf("%w: %v", telephony.ErrInvalidNumber, err)
		}
	}
	return fmt.Errorf("%w: %v", telephony.ErrProviderUnavailable, err)
}

func scriptTwiml(script string) string {
	var b strings.Builder
	b.WriteString("<Response><Say>")
	xmlEscape(&b, script)
	b.WriteString("</Say></Response>")
	return b.String()
}

func xmlEscape(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
}

// ---------- HTTP helpers ----------

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

type HTTPError struct {
	StatusCode int
	Body       string
	APIError   *apiError
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "twilio: <nil error>"
	}
	if e.APIError != nil && strings.TrimSpace(e.APIError.Message) != "" {
		if e.APIError.Code != 0 {
			return fmt.Sprintf("twilio http %d: %s (code=%d)", e.StatusCode, e.APIError.Message, e.APIError.Code)
		}
		return fmt.Sprintf("twilio http %d: %s", e.StatusCode, e.APIError.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 4000 {
		msg = msg[:4000] + "..."
	}
	return fmt.Sprintf("twilio http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (g *gateway) basicAuth() (user, pass string) {
	if g.cfg.APIKey != "" {
		return g.cfg.APIKey, g.cfg.APIKeySecret
	}
	return g.cfg.AccountSID, g.cfg.AuthToken
}

func doForm[T any](g *gateway, ctx context.Context, method, urlStr string, form url.Values) (*T, *http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, urlStr, body)
	if err != nil {
		return nil, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	u, p := g.basicAuth()
	req.SetBasicAuth(u, p)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, resp, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && strings.TrimSpace(ae.Message) != "" {
			return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), APIError: &ae}
		}
		return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out T
	if len(raw) == 0 {
		return &out, resp, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("twilio decode error: %w; raw=%s", err, string(raw))
	}
	return &out, resp, nil
}
