package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/engine"
	"github.com/avelkaz/markethold/internal/idempotency"
	"github.com/avelkaz/markethold/internal/observability"
)

type Handlers struct {
	eng    *engine.Engine
	idemp  *idempotency.Idempotency
	logger observability.Logger
}

func NewHandlers(eng *engine.Engine, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{eng: eng, idemp: idemp, logger: logger}
}

// encodeLogger covers failures on paths that carry no request-scoped logger.
var encodeLogger = observability.NewLogger()

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		encodeLogger.Error("failed to marshal response: ", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"message":"server error"}`))
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
}

// writeError translates the engine's typed outcomes into HTTP statuses.
// Conflicts and insufficiency are expected results, not failures; only the
// default branch is a real server error.
func writeError(w http.ResponseWriter, err error) {
	var funds *domain.InsufficientFundsError
	var unavail *domain.UnavailableError
	var capErr *domain.DailyCapError

	switch {
	case errors.As(err, &funds):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "insufficient funds",
			"balance": funds.Balance,
			"need":    funds.Need,
		})
	case errors.As(err, &unavail):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success": false,
			"message": "some items unavailable",
			"invalid": map[string]interface{}{
				"missing":          uuidStrings(unavail.Missing),
				"own":              uuidStrings(unavail.Own),
				"already_reserved": uuidStrings(unavail.AlreadyReserved),
			},
		})
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "daily top-up limit exceeded",
			"left":    capErr.Left,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrOwnProduct):
		writeMessage(w, http.StatusForbidden, "cannot reserve your own product")
	case errors.Is(err, domain.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrAlreadyReserved):
		writeMessage(w, http.StatusConflict, "product already reserved")
	case errors.Is(err, domain.ErrNotActive):
		writeMessage(w, http.StatusConflict, "reservation not active")
	case errors.Is(err, domain.ErrAlreadyProcessed):
		writeMessage(w, http.StatusConflict, "already processed")
	case errors.Is(err, domain.ErrPriceLocked):
		writeMessage(w, http.StatusConflict, "price locked by active reservation")
	case errors.Is(err, domain.ErrConflict):
		writeMessage(w, http.StatusConflict, "conflict")
	case errors.Is(err, domain.ErrSerializationFailure):
		writeMessage(w, http.StatusConflict, "conflict, try again")
	default:
		writeMessage(w, http.StatusInternalServerError, "server error")
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "bad product id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}

type reservationJSON struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	OwnerID    string    `json:"owner_id"`
	ReservedBy string    `json:"reserved_by"`
	Amount     float64   `json:"amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func toReservationJSON(r domain.Reservation) reservationJSON {
	return reservationJSON{
		ID:         r.ID.String(),
		ProductID:  r.ProductID.String(),
		OwnerID:    r.OwnerID.String(),
		ReservedBy: r.ReservedBy.String(),
		Amount:     r.Amount,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

type productJSON struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"image_url"`
	Price       float64 `json:"price"`
}

func toProductJSON(p domain.Product) productJSON {
	return productJSON{
		ID:          p.ID.String(),
		OwnerID:     p.OwnerID.String(),
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Price:       p.Price,
	}
}

// replayIdempotent writes the stored response for a repeated key and reports
// whether it did.
func (h *Handlers) replayIdempotent(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		h.logger.Warn("idempotency lookup failed: ", err)
		return key, false
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return key, true
	}
	return key, false
}

func (h *Handlers) storeIdempotent(r *http.Request, key string, status int, body []byte) {
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: body}); err != nil {
		h.logger.Warn("idempotency store failed: ", err)
	}
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	key, done := h.replayIdempotent(w, r)
	if done {
		return
	}

	var req struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad request body")
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "missing or bad product_id")
		return
	}

	res, err := h.eng.Reserve(r.Context(), principal, productID)
	if err != nil {
		writeError(w, err)
		return
	}

	body := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"reservation": toReservationJSON(*res),
	})
	h.storeIdempotent(r, key, http.StatusCreated, body)
}

func (h *Handlers) QuoteReservations(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req struct {
		ProductIDs []string `json:"product_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad request body")
		return
	}
	ids, err := parseIDs(req.ProductIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := h.eng.GetQuote(r.Context(), principal, ids)
	if err != nil {
		writeError(w, err)
		return
	}

	available := make([]productJSON, len(q.Available))
	for i, p := range q.Available {
		available[i] = toProductJSON(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"count":     len(available),
		"total":     q.Total,
		"available": available,
		"unavailable": map[string]interface{}{
			"missing":          uuidStrings(q.Missing),
			"own":              uuidStrings(q.Own),
			"already_reserved": uuidStrings(q.AlreadyReserved),
		},
	})
}

func (h *Handlers) BulkReserve(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	key, done := h.replayIdempotent(w, r)
	if done {
		return
	}

	var req struct {
		ProductIDs []string `json:"product_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad request body")
		return
	}
	ids, err := parseIDs(req.ProductIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.eng.BulkReserve(r.Context(), principal, ids)
	if err != nil {
		writeError(w, err)
		return
	}

	reservations := make([]reservationJSON, len(result.Reservations))
	for i, res := range result.Reservations {
		reservations[i] = toReservationJSON(res)
	}
	body := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"count":        len(reservations),
		"total":        result.Total,
		"balance":      result.Balance,
		"reservations": reservations,
	})
	h.storeIdempotent(r, key, http.StatusCreated, body)
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad reservation id")
		return
	}

	res, err := h.eng.Cancel(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"reservation": toReservationJSON(*res),
	})
}

func (h *Handlers) MyReservations(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	list, err := h.eng.MyActive(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, len(list))
	for i, ar := range list {
		item := map[string]interface{}{
			"reservation": toReservationJSON(ar.Reservation),
		}
		if ar.Product != nil {
			item["product"] = map[string]interface{}{
				"id":        ar.Product.ID.String(),
				"name":      ar.Product.Name,
				"image_url": ar.Product.ImageURL,
				"price":     ar.Product.Price,
				"owner":     ar.Product.OwnerID.String(),
			}
		}
		out[i] = item
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"count":        len(out),
		"reservations": out,
	})
}

func (h *Handlers) Deposit(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	key, done := h.replayIdempotent(w, r)
	if done {
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
		Note   string  `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad request body")
		return
	}

	balance, err := h.eng.Deposit(r.Context(), principal, req.Amount, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	body := writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"balance": balance,
	})
	h.storeIdempotent(r, key, http.StatusOK, body)
}

func (h *Handlers) WalletBalance(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	balance, err := h.eng.WalletBalance(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"balance": balance,
	})
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		ImageURL    string  `json:"image_url"`
		Price       float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad request body")
		return
	}

	p, err := h.eng.CreateProduct(r.Context(), principal, engine.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"product": toProductJSON(*p),
	})
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.eng.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]productJSON, len(products))
	for i, p := range products {
		out[i] = toProductJSON(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"count":    len(out),
		"products": out,
	})
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad product id")
		return
	}
	p, err := h.eng.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"product": toProductJSON(*p),
	})
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad product id")
		return
	}

	var req struct {
		Name        *string  `json:"name"`
		Description *string  `json:"description"`
		ImageURL    *string  `json:"image_url"`
		Price       *float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad request body")
		return
	}

	p, err := h.eng.UpdateProduct(r.Context(), principal, id, engine.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"product": toProductJSON(*p),
	})
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad product id")
		return
	}
	if err := h.eng.DeleteProduct(r.Context(), principal, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
