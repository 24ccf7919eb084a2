package httptransport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"math/big"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"certstore/internal/certificate/models"
	"certstore/internal/certificate/store"
	"certstore/pkg/platform/sentinel"
	"certstore/pkg/requestcontext"
)

const defaultSearchPageSize = 50

type revocationResponse struct {
	Reason         string     `json:"reason"`
	ReasonCode     int        `json:"reason_code"`
	Date           time.Time  `json:"date"`
	InvalidityDate *time.Time `json:"invalidity_date,omitempty"`
}

type certificateResponse struct {
	SerialNumber string              `json:"serial_number"`
	SerialHex    string              `json:"serial_hex"`
	Status       models.Status       `json:"status"`
	Subject      string              `json:"subject,omitempty"`
	NotBefore    *time.Time          `json:"not_before,omitempty"`
	NotAfter     *time.Time          `json:"not_after,omitempty"`
	AutoRenew    models.AutoRenew    `json:"auto_renew,omitempty"`
	MetaInfo     models.MetaInfo     `json:"meta_info"`
	IssuedBy     string              `json:"issued_by,omitempty"`
	RevokedBy    string              `json:"revoked_by,omitempty"`
	RevokedOn    *time.Time          `json:"revoked_on,omitempty"`
	Revocation   *revocationResponse `json:"revocation,omitempty"`
	CreateTime   time.Time           `json:"create_time"`
	ModifyTime   time.Time           `json:"modify_time"`
	DER          string              `json:"der,omitempty"`
}

func toResponse(rec *models.CertificateRecord, includeDER bool) certificateResponse {
	resp := certificateResponse{
		SerialNumber: rec.SerialNumber.String(),
		SerialHex:    rec.SerialNumber.Text(16),
		Status:       rec.Status,
		AutoRenew:    rec.AutoRenew,
		MetaInfo:     rec.MetaInfo,
		IssuedBy:     rec.IssuedBy,
		RevokedBy:    rec.RevokedBy,
		CreateTime:   rec.CreateTime,
		ModifyTime:   rec.ModifyTime,
	}
	if c := rec.Certificate; c != nil {
		resp.Subject = c.Subject
		resp.NotBefore, resp.NotAfter = &c.NotBefore, &c.NotAfter
		if includeDER {
			resp.DER = base64.StdEncoding.EncodeToString(c.DER)
		}
	}
	if !rec.RevokedOn.IsZero() {
		resp.RevokedOn = &rec.RevokedOn
	}
	if info := rec.RevocationInfo; info != nil {
		resp.Revocation = &revocationResponse{
			Reason:         info.Reason.String(),
			ReasonCode:     int(info.Reason),
			Date:           info.Date,
			InvalidityDate: info.InvalidityDate,
		}
	}
	return resp
}

// parseSerial accepts a decimal serial or a 0x-prefixed hexadecimal one.
func parseSerial(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid serial number %q: %w", s, sentinel.ErrSerialization)
	}
	return n, nil
}

type createRequest struct {
	DER       []byte            `json:"der"`
	AutoRenew string            `json:"auto_renew,omitempty"`
	MetaInfo  map[string]string `json:"meta_info,omitempty"`
}

// handleCreate stores a newly issued certificate under its own serial number.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", sentinel.ErrSerialization))
		return
	}
	info, err := h.parser.Parse(req.DER)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", sentinel.ErrSerialization, err))
		return
	}
	cert, err := models.NewCertificate(req.DER, h.parser)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", sentinel.ErrSerialization, err))
		return
	}
	rec, err := models.NewCertificateRecord(info.SerialNumber, cert)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.AutoRenew != "" {
		if rec.AutoRenew, err = models.ParseAutoRenew(req.AutoRenew); err != nil {
			writeError(w, err)
			return
		}
	}
	for _, k := range slices.Sorted(maps.Keys(req.MetaInfo)) {
		rec.MetaInfo.Set(k, req.MetaInfo[k])
	}

	if err := h.store.AddRecord(ctx, rec); err != nil {
		h.logFailure(r, "failed to add certificate", err)
		writeError(w, err)
		return
	}
	rec, err = h.store.ReadRecord(ctx, info.SerialNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec, false))
}

func (h *Handler) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serial, err := parseSerial(chi.URLParam(r, "serial"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.store.ReadRecord(ctx, serial)
	if err != nil {
		h.logFailure(r, "failed to read certificate", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec, r.URL.Query().Get("include_der") == "true"))
}

type searchResponse struct {
	Total        int                   `json:"total"`
	BeforeAnchor int                   `json:"before_anchor"`
	AfterAnchor  int                   `json:"after_anchor"`
	Offset       int                   `json:"offset"`
	NextOffset   *int                  `json:"next_offset,omitempty"`
	Records      []certificateResponse `json:"records"`
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, sentinel.ErrInvalidFilter)
	}
	return n, nil
}

// handleSearch returns one slice of a windowed search. offset and limit index
// elements from the anchor in scan direction.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	pageSize, err := queryInt(r, "page_size", defaultSearchPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", min(abs(pageSize), h.maxLimit))
	if err != nil {
		writeError(w, err)
		return
	}
	if offset < 0 || limit < 0 || limit > h.maxLimit {
		writeError(w, fmt.Errorf("offset and limit must be in range [0, %d]: %w", h.maxLimit, sentinel.ErrInvalidFilter))
		return
	}
	var attrs []string
	if fields := q.Get("fields"); fields != "" {
		attrs = strings.Split(fields, ",")
	}

	win, err := h.store.Search(ctx, store.SearchRequest{
		Filter:   q.Get("filter"),
		Attrs:    attrs,
		SortKey:  q.Get("sort"),
		Anchor:   q.Get("anchor"),
		PageSize: pageSize,
	})
	if err != nil {
		h.logFailure(r, "failed to open search window", err)
		writeError(w, err)
		return
	}
	defer func() {
		if cerr := win.Close(); cerr != nil {
			h.logger.WarnContext(ctx, "failed to close search window", "error", cerr)
		}
	}()

	resp := searchResponse{
		Total:        win.TotalSize(),
		BeforeAnchor: win.SizeBeforeAnchor(),
		AfterAnchor:  win.SizeAfterAnchor(),
		Offset:       offset,
		Records:      []certificateResponse{},
	}
	for i := offset; i < offset+limit; i++ {
		rec, ok, err := win.ElementAt(ctx, i)
		if err != nil {
			h.logFailure(r, "failed to fetch search page", err)
			writeError(w, err)
			return
		}
		if !ok {
			break
		}
		resp.Records = append(resp.Records, toResponse(rec, false))
	}
	if next := offset + len(resp.Records); next < win.Remaining() {
		resp.NextOffset = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

type revokeRequest struct {
	// Reason is an RFC 5280 reason name or numeric code.
	Reason         string     `json:"reason"`
	InvalidityDate *time.Time `json:"invalidity_date,omitempty"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serial, err := parseSerial(chi.URLParam(r, "serial"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid revoke request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		writeError(w, fmt.Errorf("invalid request body: %w", sentinel.ErrSerialization))
		return
	}
	reason := models.ReasonUnspecified
	if req.Reason != "" {
		if reason, err = models.ParseRevocationReason(req.Reason); err != nil {
			writeError(w, err)
			return
		}
	}
	info, err := models.NewRevocationInfo(requestcontext.Now(ctx), reason, req.InvalidityDate)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.MarkAsRevoked(ctx, serial, info); err != nil {
		h.logFailure(r, "failed to revoke certificate", err)
		writeError(w, err)
		return
	}
	h.respondWithRecord(w, r, serial)
}

// handleUnrevoke rolls back a revocation using the values currently stored.
func (h *Handler) handleUnrevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serial, err := parseSerial(chi.URLParam(r, "serial"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.store.ReadRecord(ctx, serial)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.RevocationInfo == nil {
		writeError(w, fmt.Errorf("certificate %s is not revoked: %w", serial, sentinel.ErrInvalidState))
		return
	}
	if err := h.store.UnmarkRevoked(ctx, serial, rec.RevocationInfo, rec.RevokedOn, rec.RevokedBy); err != nil {
		h.logFailure(r, "failed to unrevoke certificate", err)
		writeError(w, err)
		return
	}
	h.respondWithRecord(w, r, serial)
}

func (h *Handler) respondWithRecord(w http.ResponseWriter, r *http.Request, serial *big.Int) {
	rec, err := h.store.ReadRecord(r.Context(), serial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec, false))
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	ctx := r.Context()
	log := h.logger.ErrorContext
	if isClientError(err) {
		log = h.logger.WarnContext
	}
	log(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"path", r.URL.Path,
		"error", err,
	)
}
