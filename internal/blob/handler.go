package blob

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/errs"
)

// DefaultMaxBytes caps a single upload.
const DefaultMaxBytes = 32 << 20

// Handler serves POST /blobs and GET /blobs/{id}.
type Handler struct {
	store    Store
	baseURL  string
	maxBytes int64
	log      *zap.Logger
}

// NewHandler returns a router for store. URLs handed out are rooted at
// baseURL (e.g. "https://files.example.com").
func NewHandler(store Store, baseURL string, maxBytes int64, log *zap.Logger) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{store: store, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/blobs", h.upload).Methods(http.MethodPost)
	r.HandleFunc("/blobs/{id}", h.download).Methods(http.MethodGet)
	return r
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty blob", http.StatusBadRequest)
		return
	}
	id, err := h.store.Put(r.Context(), data)
	if err != nil {
		h.log.Error("blob put", zap.Error(err))
		http.Error(w, "store blob", http.StatusInternalServerError)
		return
	}
	h.log.Info("blob stored", zap.String("id", id), zap.Int("size", len(data)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(uploadResponse{URL: h.baseURL + "/blobs/" + id})
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "blob not found", http.StatusNotFound)
		return
	case errors.Is(err, errs.ErrInvalidArgument):
		http.Error(w, "bad blob id", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("blob get", zap.Error(err))
		http.Error(w, "read blob", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

type uploadResponse struct {
	URL string `json:"url"`
}
