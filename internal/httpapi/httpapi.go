package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/cart"
	"dinein/backend/internal/checkout"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/service"
	"dinein/backend/internal/store"
)

const maxBodyBytes = 1 << 20

// ManagerPINHeader carries the manager PIN that lets a cashier void, comp or
// refund.
const ManagerPINHeader = "X-Manager-PIN"

// EventFeed serves the websocket event stream.
type EventFeed interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	feed          EventFeed
	allowedOrigin string
	loginLimiter  *clientLimiter
	pinLimiter    *clientLimiter
	log           logrus.FieldLogger
}

func New(svc *service.Service, auth *AuthManager, feed EventFeed, allowedOrigin string, log logrus.FieldLogger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		feed:          feed,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newClientLimiter(5, time.Minute),
		pinLimiter:    newClientLimiter(8, time.Minute),
		log:           log.WithField("component", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, a.recoverer, a.securityHeaders, a.requestLog)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)
	if a.feed != nil {
		r.With(a.requireQueryToken).Get("/api/v1/events", a.feed.ServeWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth(domain.RoleCashier, domain.RoleManager, domain.RoleAdmin))

		r.Get("/products", a.handleListProducts)
		r.Get("/products/{productID}", a.handleGetProduct)
		r.Get("/products/{productID}/batches", a.handleListBatches)
		r.Get("/tables", a.handleListTables)
		r.Get("/kitchens", a.handleListKitchens)
		r.Get("/printers", a.handleListPrinters)
		r.Get("/orders", a.handleListOrders)
		r.Get("/orders/{ref}", a.handleGetOrder)
		r.With(a.requireManagerApproval).Post("/orders/{ref}/refunds", a.handleRefund)

		r.Route("/tables/{tableID}", func(r chi.Router) {
			r.Get("/", a.handleTableState)
			r.Get("/tickets", a.handleTickets)
			r.Post("/items", a.handleAddItem)
			r.Post("/items/remove", a.handleRemoveItems)
			r.Patch("/items/{lineID}", a.handleUpdateItem)
			r.Post("/items/{lineID}/repeat", a.handleRepeatItem)
			r.With(a.requireManagerApproval).Post("/items/{lineID}/void", a.handleVoid)
			r.With(a.requireManagerApproval).Delete("/items/{lineID}/void", a.handleRemoveVoid)
			r.With(a.requireManagerApproval).Post("/items/{lineID}/comp", a.handleComp)
			r.With(a.requireManagerApproval).Delete("/items/{lineID}/comp", a.handleRemoveComp)
			r.Put("/discount", a.handleDiscount)
			r.Put("/charges", a.handleCharges)
			r.Put("/instructions", a.handleInstructions)
			r.Put("/customer", a.handleCustomer)
			r.Post("/send", a.handleSend)
			r.Post("/pay", a.handlePay)
			r.Post("/finalize", a.handleFinalize)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleManager, domain.RoleAdmin))
			r.Post("/batches", a.handleReceiveBatch)
			r.Get("/stock-records", a.handleStockRecords)
			r.Get("/outbox", a.handleOutbox)
			r.Get("/audit-logs", a.handleAuditLogs)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Post("/products", a.handleSaveProduct)
			r.Post("/printers", a.handleSavePrinter)
			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok {
				authorization := strings.TrimSpace(r.Header.Get("Authorization"))
				if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
					writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
					return
				}
				var err error
				actor, err = a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
				if err != nil {
					writeError(w, http.StatusUnauthorized, err)
					return
				}
			}
			if !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

// requireQueryToken authenticates websocket upgrades, which cannot carry an
// Authorization header from a browser.
func (a *API) requireQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.auth.ParseToken(r.URL.Query().Get("access_token"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// requireManagerApproval passes managers and admins through. A cashier needs
// a valid manager PIN, which marks the request as approved.
func (a *API) requireManagerApproval(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := service.ActorFromContext(r.Context())
		if actor.Role == domain.RoleManager || actor.Role == domain.RoleAdmin {
			next.ServeHTTP(w, r)
			return
		}
		if !a.pinLimiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(r.Header.Get(ManagerPINHeader)) {
			a.log.WithField("username", actor.Username).Warn("manager pin rejected")
			writeError(w, http.StatusForbidden, errors.New("manager approval required"))
			return
		}
		actor.Approved = true
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ManagerPINHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(startedAt).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.log.WithField("path", r.URL.Path).Errorf("handler panicked: %v", rec)
				writeError(w, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleSaveProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.Product
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.SaveProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := a.service.ListBatches(r.Context(), chi.URLParam(r, "productID"), r.URL.Query().Get("sku"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (a *API) handleReceiveBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := a.service.ReceiveBatch(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
}

func (a *API) handleStockRecords(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	records, err := a.service.ListStockRecords(r.Context(), r.URL.Query().Get("sku"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := a.service.ListTables(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (a *API) handleListKitchens(w http.ResponseWriter, r *http.Request) {
	kitchens, err := a.service.ListKitchens(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kitchens": kitchens})
}

func (a *API) handleListPrinters(w http.ResponseWriter, r *http.Request) {
	printers, err := a.service.ListPrinters(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"printers": printers})
}

func (a *API) handleSavePrinter(w http.ResponseWriter, r *http.Request) {
	var req domain.Printer
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	printer, err := a.service.SavePrinter(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"printer": printer})
}

func (a *API) handleTableState(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.TableState(r.Context(), chi.URLParam(r, "tableID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.service.Tickets(r.Context(), chi.URLParam(r, "tableID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := a.service.AddItem(r.Context(), chi.URLParam(r, "tableID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": line})
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch cart.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := a.service.UpdateItem(r.Context(), chi.URLParam(r, "tableID"), chi.URLParam(r, "lineID"), patch)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": line})
}

func (a *API) handleRemoveItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LineIDs []string `json:"line_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.RemoveItems(r.Context(), chi.URLParam(r, "tableID"), req.LineIDs); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRepeatItem(w http.ResponseWriter, r *http.Request) {
	line, err := a.service.RepeatItem(r.Context(), chi.URLParam(r, "tableID"), chi.URLParam(r, "lineID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": line})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := a.service.VoidItem(r.Context(), chi.URLParam(r, "tableID"), chi.URLParam(r, "lineID"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": line})
}

func (a *API) handleRemoveVoid(w http.ResponseWriter, r *http.Request) {
	line, err := a.service.RemoveVoid(r.Context(), chi.URLParam(r, "tableID"), chi.URLParam(r, "lineID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": line})
}

func (a *API) handleComp(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := a.service.CompItem(r.Context(), chi.URLParam(r, "tableID"), chi.URLParam(r, "lineID"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": line})
}

func (a *API) handleRemoveComp(w http.ResponseWriter, r *http.Request) {
	line, err := a.service.RemoveComp(r.Context(), chi.URLParam(r, "tableID"), chi.URLParam(r, "lineID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": line})
}

func (a *API) handleDiscount(w http.ResponseWriter, r *http.Request) {
	var discount *domain.Discount
	if err := decodeJSON(r, &discount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.SetDiscount(r.Context(), chi.URLParam(r, "tableID"), discount); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.handleTableState(w, r)
}

func (a *API) handleCharges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Charges []domain.Charge `json:"charges"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.SetCharges(r.Context(), chi.URLParam(r, "tableID"), req.Charges); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.handleTableState(w, r)
}

func (a *API) handleInstructions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.SetInstructions(r.Context(), chi.URLParam(r, "tableID"), req.Text); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerRef string `json:"customer_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.SetCustomer(r.Context(), chi.URLParam(r, "tableID"), req.CustomerRef); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	res, err := a.service.Send(r.Context(), chi.URLParam(r, "tableID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePay(w http.ResponseWriter, r *http.Request) {
	var tender checkout.Tender
	if err := decodeJSON(r, &tender); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.Pay(r.Context(), chi.URLParam(r, "tableID"), tender)
	if err != nil {
		if res.State == checkout.StatePaymentComplete {
			// Tender was recorded; the client retries with /finalize.
			writeJSON(w, http.StatusAccepted, map[string]any{"result": res, "error": err.Error()})
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.Finalize(r.Context(), chi.URLParam(r, "tableID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Status:  q.Get("status"),
		TableID: q.Get("table_id"),
		Limit:   parsePositiveLimit(q.Get("limit"), 100, 500),
	}
	if raw := q.Get("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("date must be YYYY-MM-DD"))
			return
		}
		filter.From = day.UTC()
		filter.To = filter.From.Add(24 * time.Hour)
	}
	orders, err := a.service.ListOrders(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.Refund(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleOutbox(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.ListOutbox(r.Context(), r.URL.Query().Get("status"), parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrConflict) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// statusFor maps the error taxonomy and store sentinels onto HTTP statuses.
func statusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindLookupMiss:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindConnectivity, apperror.KindHardware:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.WithError(err).Error("request failed")
		writeError(w, status, err)
		return
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		writeJSON(w, status, map[string]any{
			"error":  appErr.Error(),
			"kind":   appErr.Kind,
			"code":   appErr.Code,
			"fields": appErr.Fields,
		})
		return
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
