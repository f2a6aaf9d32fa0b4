package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"canteen-sync/internal/domain/driver"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/jwt"
)

// Location is a reported position with the driver it was reported for.
type Location = contracts.DriverLocationPayload

func (b *Backend) routes() http.Handler {
	auth := jwt.AuthMiddlewareFunc(b.tokens)
	drivers := jwt.AuthMiddlewareFunc(b.tokens, user.RoleDriver, user.RoleAdmin)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", b.handleWS)

	mux.HandleFunc("POST /orders", b.record(auth(b.createOrder)))
	mux.HandleFunc("POST /orders/{id}/payments", b.record(auth(b.addPayment)))
	mux.HandleFunc("POST /orders/{id}/manual-pickup", b.record(drivers(b.manualPickup)))
	mux.HandleFunc("POST /orders/{id}/deliver", b.record(drivers(b.deliver)))

	mux.HandleFunc("POST /drivers/login", b.record(b.login))
	mux.HandleFunc("POST /drivers/register", b.record(b.register))
	mux.HandleFunc("POST /drivers/verify-pickup", b.record(drivers(b.verifyPickup)))
	mux.HandleFunc("GET /drivers/{id}", b.record(auth(b.getDriver)))
	mux.HandleFunc("GET /drivers/{id}/orders/ready", b.record(drivers(b.readyOrders)))
	mux.HandleFunc("PUT /drivers/{id}/location", b.record(drivers(b.updateLocation)))
	mux.HandleFunc("PUT /drivers/{id}/status", b.record(drivers(b.updateStatus)))
	return mux
}

// Requests lists "METHOD path" for every REST call, in arrival order.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.requests))
	copy(out, b.requests)
	return out
}

// SeedOrder stores an order as the backend's copy.
func (b *Backend) SeedOrder(o order.Order) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	b.mu.Lock()
	b.orders[o.ID] = o
	b.mu.Unlock()
}

func (b *Backend) Order(id string) (order.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	return o, ok
}

// SeedDriver registers a driver that can log in with phone and password.
func (b *Backend) SeedDriver(d driver.Driver, password string) {
	b.mu.Lock()
	b.drivers[d.ID] = d
	b.passwords[d.Phone] = password
	b.mu.Unlock()
}

// BareVerify makes verify-pickup acknowledge without returning the order.
func (b *Backend) BareVerify(bare bool) {
	b.mu.Lock()
	b.bareVerify = bare
	b.mu.Unlock()
}

// FailLocations answers location reports with status, 0 restores success.
func (b *Backend) FailLocations(status int) {
	b.mu.Lock()
	b.locStatus = status
	b.mu.Unlock()
}

func (b *Backend) Locations() []Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Location, len(b.locations))
	copy(out, b.locations)
	return out
}

func (b *Backend) record(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		b.mu.Unlock()
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (b *Backend) createOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []struct {
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
		Fulfillment     order.Fulfillment `json:"fulfillment"`
		DeliveryAddress string            `json:"deliveryAddress"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		fail(w, http.StatusBadRequest, "order has no items")
		return
	}

	now := time.Now().UTC()
	b.mu.Lock()
	b.nextOrderID++
	o := order.Order{
		ID:              fmt.Sprintf("order-%d", b.nextOrderID),
		Status:          order.StatusPending,
		Fulfillment:     req.Fulfillment,
		DeliveryAddress: req.DeliveryAddress,
		PickupCode:      fmt.Sprintf("%06d", 100000+b.nextOrderID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, it := range req.Items {
		o.Items = append(o.Items, order.Item{ProductID: it.ProductID, Quantity: it.Quantity, Price: 5})
		o.TotalAmount += 5 * float64(it.Quantity)
	}
	b.orders[o.ID] = o
	b.mu.Unlock()

	b.Push("orderCreated", map[string]any{"order": o})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{"order": o}})
}

func (b *Backend) addPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Method string  `json:"method"`
		Amount float64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if _, found := b.Order(id); !found {
		fail(w, http.StatusNotFound, "Order not found")
		return
	}
	ok(w, map[string]any{
		"id":      "pay-" + id,
		"orderId": id,
		"method":  req.Method,
		"amount":  req.Amount,
		"status":  "completed",
	})
}

func (b *Backend) verifyPickup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID    string `json:"orderId"`
		PickupCode string `json:"pickupCode"`
		DriverID   string `json:"driverId"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	o, found := b.orders[req.OrderID]
	bare := b.bareVerify
	switch {
	case !found:
		b.mu.Unlock()
		fail(w, http.StatusNotFound, "Order not found")
		return
	case o.PickupCode != req.PickupCode:
		b.mu.Unlock()
		fail(w, http.StatusBadRequest, "Invalid pickup code")
		return
	case o.Status != order.StatusReady:
		b.mu.Unlock()
		fail(w, http.StatusConflict, "Order is not ready for pickup")
		return
	}
	o.Status = order.StatusOutForDelivery
	o.DriverID = req.DriverID
	o.UpdatedAt = time.Now().UTC()
	b.orders[o.ID] = o
	d := b.drivers[req.DriverID]
	b.mu.Unlock()

	b.Push("orderUpdated", map[string]any{"order": o})

	body := map[string]any{"success": true, "message": "Pickup verified"}
	if !bare {
		body["order"] = o
		if d.ID != "" {
			body["driver"] = d
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) transition(w http.ResponseWriter, r *http.Request, apply func(*order.Order) error, wire string) {
	id := r.PathValue("id")
	var req struct {
		DriverID string `json:"driverId"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	o, found := b.orders[id]
	if !found {
		b.mu.Unlock()
		fail(w, http.StatusNotFound, "Order not found")
		return
	}
	if err := apply(&o); err != nil {
		b.mu.Unlock()
		fail(w, http.StatusConflict, err.Error())
		return
	}
	o.DriverID = req.DriverID
	o.UpdatedAt = time.Now().UTC()
	b.orders[id] = o
	b.mu.Unlock()

	b.Push(wire, map[string]any{"order": o})
	ok(w, map[string]any{"order": o})
}

func (b *Backend) manualPickup(w http.ResponseWriter, r *http.Request) {
	b.transition(w, r, func(o *order.Order) error {
		if o.Status != order.StatusReady {
			return fmt.Errorf("order is %s", o.Status)
		}
		o.Status = order.StatusPickedUp
		o.Fulfillment = order.FulfillmentPickup
		return nil
	}, "orderUpdated")
}

func (b *Backend) deliver(w http.ResponseWriter, r *http.Request) {
	b.transition(w, r, func(o *order.Order) error {
		if o.Status != order.StatusOutForDelivery {
			return fmt.Errorf("order is %s", o.Status)
		}
		o.Status = order.StatusDelivered
		return nil
	}, "deliveryCompleted")
}

func (b *Backend) readyOrders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	out := make([]order.Order, 0)
	for _, o := range b.orders {
		if o.Status != order.StatusReady || o.Fulfillment == order.FulfillmentPickup {
			continue
		}
		if o.DriverID != "" && o.DriverID != id {
			continue
		}
		out = append(out, o)
	}
	b.mu.Unlock()

	ok(w, out)
}

func (b *Backend) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req contracts.DriverLocationPayload
	if !decode(w, r, &req) {
		return
	}
	req.DriverID = r.PathValue("id")

	b.mu.Lock()
	status := b.locStatus
	if status == 0 {
		b.locations = append(b.locations, req)
	}
	b.mu.Unlock()

	if status != 0 {
		fail(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req contracts.DriverStatusPayload
	if !decode(w, r, &req) {
		return
	}
	status, err := driver.ParseStatus(req.Status)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	b.mu.Lock()
	d := b.drivers[id]
	d.ID = id
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	b.drivers[id] = d
	b.mu.Unlock()

	b.Push("driverStatusUpdate", map[string]any{"driver": d})
	ok(w, d)
}

func (b *Backend) getDriver(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	d, found := b.drivers[r.PathValue("id")]
	b.mu.Unlock()
	if !found {
		fail(w, http.StatusNotFound, "Driver not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	pw, known := b.passwords[req.Phone]
	var d driver.Driver
	for _, candidate := range b.drivers {
		if candidate.Phone == req.Phone {
			d = candidate
		}
	}
	b.mu.Unlock()

	if !known || pw != req.Password || d.ID == "" {
		fail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	b.issue(w, d)
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	if _, taken := b.passwords[req.Phone]; taken {
		b.mu.Unlock()
		fail(w, http.StatusConflict, "Phone already registered")
		return
	}
	d := driver.Driver{
		ID:     fmt.Sprintf("driver-%d", len(b.drivers)+1),
		Name:   req.Name,
		Phone:  req.Phone,
		Status: driver.StatusOffline,
	}
	b.drivers[d.ID] = d
	b.passwords[req.Phone] = req.Password
	b.mu.Unlock()

	b.issue(w, d)
}

func (b *Backend) issue(w http.ResponseWriter, d driver.Driver) {
	tok, _, err := b.tokens.IssueUserToken(d.ID, user.RoleDriver)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, map[string]any{"token": tok, "driver": d})
}
