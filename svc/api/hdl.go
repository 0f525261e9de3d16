package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"mime"
	"net/http"
	"shortpaste/cfg"
	"shortpaste/pkg/domain"
	"shortpaste/svc/svc"
	"shortpaste/svc/util"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

// jsonOverhead leaves room for escaping and the optional fields around
// content.
const jsonOverhead = 1024

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}
type CreateResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
type GetResp struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		writeErr(w, domain.ErrUnsupportedMediaType, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*2+jsonOverhead)
	params, err := decodeCreate(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", tooLarge.Limit).Msg("request body exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
		log.Warn().Err(err).Msg("invalid create request")
		writeErr(w, err, requestID)
		return
	}
	params.Now = util.CurrentTime(h.cfg.TestMode, r.Header.Get(util.TestNowHeader))

	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if domain.IsValidation(err) {
			log.Warn().Err(err).Msg("paste rejected")
			writeErr(w, err, requestID)
			return
		}
		if errors.Is(err, domain.ErrShuttingDown) {
			writeErr(w, domain.ErrShuttingDown, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Bool("ttl", paste.ExpiresAt != nil).
		Bool("view_limit", paste.MaxViews != nil).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:  paste.ID,
		URL: h.pasteURL(r, paste.ID),
	})
}

// decodeCreate reads the body into a generic map first so that wrong
// types surface as field-specific validation errors rather than a generic
// decode failure.
func decodeCreate(body io.Reader) (domain.CreateParams, error) {
	var params domain.CreateParams
	raw, err := io.ReadAll(body)
	if err != nil {
		return params, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return params, domain.ErrInvalidRequest
	}
	if dec.More() {
		return params, domain.ErrInvalidRequest
	}
	content, ok := fields["content"].(string)
	if !ok {
		return params, domain.ErrContentRequired
	}
	params.Content = content
	if params.TTLSeconds, err = optionalInt(fields["ttl_seconds"], domain.ErrInvalidTTL); err != nil {
		return params, err
	}
	if params.MaxViews, err = optionalInt(fields["max_views"], domain.ErrInvalidMaxViews); err != nil {
		return params, err
	}
	return params, nil
}

// optionalInt accepts an absent or null field, or a whole JSON number.
// 60, 60.0 and 6e1 are all 60; fractions, strings and values outside int64
// are rejected with invalid.
func optionalInt(v any, invalid error) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil, invalid
	}
	if n, err := num.Int64(); err == nil {
		return &n, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, invalid
	}
	n := int64(f)
	return &n, nil
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	now := util.CurrentTime(h.cfg.TestMode, r.Header.Get(util.TestNowHeader))
	view, err := h.paste.Get(r.Context(), id, now)
	if err != nil {
		if errors.Is(err, domain.ErrShuttingDown) {
			writeErr(w, domain.ErrShuttingDown, requestID)
			return
		}
		log.Debug().Str("paste_id", id).Msg("paste not available")
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	resp := GetResp{
		Content:        view.Content,
		RemainingViews: view.RemainingViews,
	}
	if view.ExpiresAt != nil {
		s := util.FormatMillis(*view.ExpiresAt)
		resp.ExpiresAt = &s
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(resp)
}

// pasteURL prefers the configured BASE_URL and falls back to the request's
// forwarded scheme and host. The /p/{id} path is served by GetPaste.
func (h *Hdl) pasteURL(r *http.Request, id string) string {
	base := h.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		base = scheme + "://" + r.Host
	}
	return base + "/p/" + id
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	resp := domain.ToResp(err)
	resp.RequestID = requestID
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
