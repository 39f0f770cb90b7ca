// Package rest exposes the custody ledger over a JSON HTTP surface. Handlers
// only decode requests and encode responses; custody decisions stay in the
// ledger and the policy.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/gearlocker/internal/custody/storage"
	"github.com/louisbranch/gearlocker/internal/ledger"
	apperrors "github.com/louisbranch/gearlocker/internal/platform/errors"
	"github.com/louisbranch/gearlocker/internal/platform/httpx"
	"github.com/louisbranch/gearlocker/internal/platform/timeouts"
)

const (
	maxTapBodyBytes = 4 << 10

	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler serves the custody REST API.
type Handler struct {
	ledger      *ledger.Ledger
	store       storage.AssetStore
	broadcaster *ledger.Broadcaster
}

// Option configures the API handler.
type Option func(*Handler)

// WithBroadcaster enables the change-event stream endpoint.
func WithBroadcaster(broadcaster *ledger.Broadcaster) Option {
	return func(h *Handler) {
		h.broadcaster = broadcaster
	}
}

// New builds the API handler with its middleware chain.
func New(custodyLedger *ledger.Ledger, store storage.AssetStore, opts ...Option) http.Handler {
	h := &Handler{ledger: custodyLedger, store: store}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/taps", h.handleRecordTap)
	mux.HandleFunc("GET /api/assets", h.handleListAssets)
	mux.HandleFunc("GET /api/assets/{assetID}", h.handleGetAsset)
	mux.HandleFunc("GET /api/assets/{assetID}/transitions", h.handleListTransitions)
	mux.HandleFunc("GET /api/transitions", h.handleRecentTransitions)
	mux.HandleFunc("GET /api/events", h.handleWatchEvents)
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	return httpx.Chain(mux, httpx.RecoverPanic(), httpx.RequestID(), httpx.LogRequests())
}

type tapRequest struct {
	ActingHolderID string `json:"acting_holder_id"`
	AssetID        string `json:"asset_id"`
}

type tapResponse struct {
	Status         string    `json:"status"`
	Classification string    `json:"classification"`
	Note           string    `json:"note,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type assetResponse struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Status         string     `json:"status"`
	HolderID       string     `json:"holder_id,omitempty"`
	HeldSince      *time.Time `json:"held_since,omitempty"`
	ExpectedReturn *time.Time `json:"expected_return,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type assetListResponse struct {
	Assets        []assetResponse `json:"assets"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type transitionResponse struct {
	ID             int64     `json:"id"`
	AssetID        string    `json:"asset_id"`
	ActingHolderID string    `json:"acting_holder_id"`
	Kind           string    `json:"kind"`
	Note           string    `json:"note"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type transitionListResponse struct {
	Transitions   []transitionResponse `json:"transitions"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func (h *Handler) handleRecordTap(w http.ResponseWriter, r *http.Request) {
	var request tapRequest
	body := io.LimitReader(r.Body, maxTapBodyBytes)
	if err := json.NewDecoder(body).Decode(&request); err != nil {
		writeError(w, apperrors.New(apperrors.CodeTapInvalidInput, "request body is not valid JSON"))
		return
	}

	ctx, cancel := context.WithTimeout(httpx.RequestContext(r), timeouts.Storage)
	defer cancel()

	outcome, err := h.ledger.RecordTap(ctx, request.ActingHolderID, request.AssetID)
	if err != nil {
		writeError(w, err)
		return
	}

	_ = httpx.WriteJSON(w, http.StatusOK, tapResponse{
		Status:         "success",
		Classification: string(outcome.Kind),
		Note:           outcome.Note,
		DisplayName:    outcome.DisplayName,
		OccurredAt:     outcome.OccurredAt,
	})
}

func (h *Handler) handleListAssets(w http.ResponseWriter, r *http.Request) {
	pageSize, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(httpx.RequestContext(r), timeouts.Storage)
	defer cancel()

	page, err := h.store.ListAssets(ctx, pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		writeError(w, mapReadError(err, ""))
		return
	}

	response := assetListResponse{Assets: make([]assetResponse, 0, len(page.Assets)), NextPageToken: page.NextPageToken}
	for _, asset := range page.Assets {
		response.Assets = append(response.Assets, toAssetResponse(asset))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, response)
}

func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	assetID := strings.TrimSpace(r.PathValue("assetID"))
	if assetID == "" {
		writeError(w, apperrors.New(apperrors.CodeTapInvalidInput, "asset id is required"))
		return
	}

	ctx, cancel := context.WithTimeout(httpx.RequestContext(r), timeouts.Storage)
	defer cancel()

	asset, err := h.store.GetAsset(ctx, assetID)
	if err != nil {
		writeError(w, mapReadError(err, assetID))
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, toAssetResponse(asset))
}

func (h *Handler) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	assetID := strings.TrimSpace(r.PathValue("assetID"))
	if assetID == "" {
		writeError(w, apperrors.New(apperrors.CodeTapInvalidInput, "asset id is required"))
		return
	}
	pageSize, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(httpx.RequestContext(r), timeouts.Storage)
	defer cancel()

	page, err := h.store.ListTransitions(ctx, assetID, pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		writeError(w, mapReadError(err, assetID))
		return
	}

	response := transitionListResponse{
		Transitions:   make([]transitionResponse, 0, len(page.Transitions)),
		NextPageToken: page.NextPageToken,
	}
	for _, record := range page.Transitions {
		response.Transitions = append(response.Transitions, toTransitionResponse(record))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, response)
}

func (h *Handler) handleRecentTransitions(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePageSize(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(httpx.RequestContext(r), timeouts.Storage)
	defer cancel()

	records, err := h.store.ListRecentTransitions(ctx, limit)
	if err != nil {
		writeError(w, mapReadError(err, ""))
		return
	}

	response := transitionListResponse{Transitions: make([]transitionResponse, 0, len(records))}
	for _, record := range records {
		response.Transitions = append(response.Transitions, toTransitionResponse(record))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, response)
}

type changeEventPayload struct {
	AssetID    string    `json:"asset_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// handleWatchEvents streams committed custody transitions as server-sent
// events. Slow consumers miss events rather than slowing down taps; they are
// expected to reconcile from the transition list.
func (h *Handler) handleWatchEvents(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeError(w, apperrors.New(apperrors.CodeStorageUnavailable, "change events are not enabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeStorageUnavailable, "streaming is not supported"))
		return
	}

	events, cancel := h.broadcaster.Subscribe(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := httpx.RequestContext(r)
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(changeEventPayload{
				AssetID:    event.AssetID,
				Kind:       string(event.Kind),
				OccurredAt: event.OccurredAt,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toAssetResponse(asset storage.Asset) assetResponse {
	return assetResponse{
		ID:             asset.ID,
		DisplayName:    asset.DisplayName,
		Status:         string(asset.Status),
		HolderID:       asset.HolderID,
		HeldSince:      asset.HeldSince,
		ExpectedReturn: asset.ExpectedReturn,
		CreatedAt:      asset.CreatedAt,
		UpdatedAt:      asset.UpdatedAt,
	}
}

func toTransitionResponse(record storage.TransitionRecord) transitionResponse {
	return transitionResponse{
		ID:             record.ID,
		AssetID:        record.AssetID,
		ActingHolderID: record.ActingHolderID,
		Kind:           string(record.Kind),
		Note:           record.Note,
		OccurredAt:     record.OccurredAt,
	}
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, apperrors.New(apperrors.CodeTapInvalidInput, fmt.Sprintf("page size %q is not valid", raw))
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return size, nil
}

// mapReadError translates store sentinels surfaced by read endpoints, which
// query storage directly rather than through the ledger.
func mapReadError(err error, assetID string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "custody storage timed out", err)
	case errors.Is(err, storage.ErrNotFound):
		message := "asset not found"
		if assetID != "" {
			message = fmt.Sprintf("asset %s not found", assetID)
		}
		return apperrors.New(apperrors.CodeAssetNotFound, message)
	case apperrors.CodeOf(err) != apperrors.CodeUnknown:
		return err
	default:
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "custody storage unavailable", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = apperrors.CodeStorageUnavailable
		message = "request timed out"
	}

	if code == apperrors.CodeAssetContention {
		w.Header().Set("Retry-After", "1")
	}
	_ = httpx.WriteJSON(w, code.HTTPStatus(), errorResponse{
		Status:  "error",
		Code:    string(code),
		Message: message,
	})
}
