package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/realtime/dispatch"
)

func statusPatch(id string, status order.Status) order.Patch {
	return order.Patch{ID: id, Status: &status}
}

func mustApply(t *testing.T, s *Store, u Update) Result {
	t.Helper()
	res, err := s.Apply(context.Background(), u)
	if err != nil {
		t.Fatalf("Apply(%+v): %v", u.Patch, err)
	}
	return res
}

func TestApply_CreatedTwiceKeepsOneOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, nil)

	ctx := context.Background()
	frame := json.RawMessage(`{"action":"created","data":{"id":"X","status":"pending","totalAmount":12.5}}`)
	for range 2 {
		if err := d.Ingest(ctx, "orderCreated", frame); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	if n := s.Len(); n != 1 {
		t.Fatalf("store holds %d orders, want 1", n)
	}
	o, _ := s.Get("X")
	if o.Status != order.StatusPending || o.TotalAmount != 12.5 {
		t.Errorf("order = %+v", o)
	}
}

func TestApply_StatusNeverRegresses(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusPending)})
	mustApply(t, s, Update{Patch: statusPatch("1", order.StatusOutForDelivery)})

	addr := "Block C, room 12"
	stale := statusPatch("1", order.StatusPreparing)
	stale.DeliveryAddress = &addr
	res := mustApply(t, s, Update{Patch: stale})

	if !res.StatusRejected || res.Rejected != order.StatusPreparing {
		t.Errorf("regression not flagged: %+v", res)
	}
	o, _ := s.Get("1")
	if o.Status != order.StatusOutForDelivery {
		t.Errorf("status = %s, want out_for_delivery", o.Status)
	}
	if o.DeliveryAddress != addr {
		t.Errorf("other fields of a rejected status update were not merged: %+v", o)
	}
}

func TestApply_ForwardSkipIsAccepted(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusConfirmed)})
	res := mustApply(t, s, Update{Patch: statusPatch("1", order.StatusReady)})

	if res.StatusRejected {
		t.Fatal("forward jump rejected")
	}
	if o, _ := s.Get("1"); o.Status != order.StatusReady {
		t.Errorf("status = %s, want ready", o.Status)
	}
}

func TestApply_CancelledIsTerminal(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusPreparing)})
	mustApply(t, s, Update{Patch: statusPatch("1", order.StatusCancelled)})
	res := mustApply(t, s, Update{Patch: statusPatch("1", order.StatusReady)})

	if !res.StatusRejected {
		t.Error("move out of cancelled accepted")
	}
}

func TestApply_CreatedResetsTerminalOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusDelivered)})
	res := mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusPending)})

	if !res.Reset {
		t.Error("created on a terminal order did not reset it")
	}
	if o, _ := s.Get("1"); o.Status != order.StatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
}

func TestApply_OlderReceiptNeverOverwritesNewer(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	newer, older := "D2", "D1"
	mustApply(t, s, Update{
		Action:     event.ActionCreated,
		Patch:      order.Patch{ID: "1", DriverID: &newer},
		Source:     SourcePush,
		ReceivedAt: base.Add(2 * time.Second),
	})
	total := 30.0
	res := mustApply(t, s, Update{
		Patch:      order.Patch{ID: "1", DriverID: &older, TotalAmount: &total},
		Source:     SourceHTTP,
		ReceivedAt: base.Add(time.Second),
	})

	o, _ := s.Get("1")
	if o.DriverID != "D2" {
		t.Errorf("driverId = %q, stale HTTP data overwrote newer push data", o.DriverID)
	}
	if o.TotalAmount != 30 {
		t.Errorf("totalAmount = %v, field never set before should merge", o.TotalAmount)
	}
	if len(res.Changed) != 1 || res.Changed[0] != order.FieldTotalAmount {
		t.Errorf("changed = %v, want [totalAmount]", res.Changed)
	}
}

func TestApply_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	if _, err := s.Apply(context.Background(), Update{}); !errors.Is(err, order.ErrOrderIDRequired) {
		t.Errorf("missing id: err = %v", err)
	}

	bogus := order.Status("teleported")
	_, err := s.Apply(context.Background(), Update{Patch: order.Patch{ID: "1", Status: &bogus}})
	if !errors.Is(err, order.ErrInvalidStatus) {
		t.Errorf("unknown status: err = %v", err)
	}
	if s.Len() != 0 {
		t.Error("rejected update created an order")
	}
}

func TestIngest_UnknownStatusRejectsWholeUpdate(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("5", order.StatusPending)})

	_ = d.Ingest(context.Background(), "orderUpdated", json.RawMessage(`{"id":"5","status":"lost","totalAmount":99}`))

	o, _ := s.Get("5")
	if o.Status != order.StatusPending || o.TotalAmount != 0 {
		t.Errorf("update with unknown status was merged: %+v", o)
	}
}

func TestBind_FanOutAppliesOnce(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, nil)

	var changes int
	s.OnChange(func(context.Context, Change) { changes++ })

	_ = d.Ingest(context.Background(), "orderUpdated", json.RawMessage(`{"id":"1","status":"confirmed"}`))

	if changes != 1 {
		t.Errorf("observers notified %d times for one frame, want 1", changes)
	}
}

func TestBind_ImpliedStatusFromAction(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		wire    string
		address string
		want    order.Status
	}{
		{"deliveryStarted", "Dorm 4", order.StatusOutForDelivery},
		{"deliveryCompleted", "Dorm 4", order.StatusDelivered},
		{"deliveryCompleted", "Pickup counter", order.StatusPickedUp},
		{"orderCancelled", "Dorm 4", order.StatusCancelled},
	}

	for _, tc := range testCases {
		t.Run(tc.wire+"/"+tc.address, func(t *testing.T) {
			t.Parallel()

			s := NewStore(nil)
			d := dispatch.New(nil)
			s.Bind(d, nil)
			addr := tc.address
			ready := order.StatusReady
			mustApply(t, s, Update{Action: event.ActionCreated, Patch: order.Patch{ID: "1", Status: &ready, DeliveryAddress: &addr}})

			_ = d.Ingest(context.Background(), tc.wire, json.RawMessage(`{"orderId":"1"}`))

			if o, _ := s.Get("1"); o.Status != tc.want {
				t.Errorf("status = %s, want %s", o.Status, tc.want)
			}
		})
	}
}

func TestBind_DeletedRemoves(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusPending)})

	_ = d.Ingest(context.Background(), "orderDeleted", json.RawMessage(`{"id":"1"}`))

	if _, ok := s.Get("1"); ok {
		t.Error("deleted order still present")
	}
}

func TestDriverView_FiltersOtherDriversAndCounterOrders(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, DriverView("D1"))
	ctx := context.Background()

	_ = d.Ingest(ctx, "deliveryAssigned", json.RawMessage(`{"order":{"id":"1","status":"ready","driverId":"D1","deliveryAddress":"Dorm 4"}}`))
	_ = d.Ingest(ctx, "deliveryAssigned", json.RawMessage(`{"order":{"id":"2","status":"ready","driverId":"D9","deliveryAddress":"Dorm 4"}}`))
	_ = d.Ingest(ctx, "deliveryAssigned", json.RawMessage(`{"order":{"id":"3","status":"ready","driverId":"D1","deliveryAddress":"Pickup counter"}}`))

	if _, ok := s.Get("1"); !ok {
		t.Error("own order filtered out")
	}
	if _, ok := s.Get("2"); ok {
		t.Error("other driver's order kept")
	}
	if _, ok := s.Get("3"); ok {
		t.Error("counter pickup order kept")
	}

	// reassigned away from D1
	_ = d.Ingest(ctx, "orderUpdated", json.RawMessage(`{"id":"1","driverId":"D2"}`))
	if _, ok := s.Get("1"); ok {
		t.Error("order reassigned to another driver still in the view")
	}
}

func TestBinding_Unbind(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	b := s.Bind(d, nil)
	b.Unbind()

	_ = d.Ingest(context.Background(), "orderCreated", json.RawMessage(`{"id":"1"}`))
	if s.Len() != 0 {
		t.Error("unbound store still receives events")
	}
}

func TestAwaitStatus(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusReady)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.AwaitStatus(ctx, "1", order.StatusOutForDelivery)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mustApply(t, s, Update{Patch: statusPatch("1", order.StatusOutForDelivery)})

	if err := <-done; err != nil {
		t.Fatalf("AwaitStatus: %v", err)
	}
}

func TestAwaitStatus_TerminalAndTimeout(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("1", order.StatusCancelled)})

	if _, err := s.AwaitStatus(context.Background(), "1", order.StatusDelivered); !errors.Is(err, ErrOrderClosed) {
		t.Errorf("cancelled order: err = %v, want ErrOrderClosed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := s.AwaitStatus(ctx, "missing", order.StatusReady); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("missing order: err = %v, want deadline exceeded", err)
	}
}

func TestLifecycle_StatusFollowsLastAppliedValue(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, nil)
	ctx := context.Background()

	created := mustApply(t, s, Update{Action: event.ActionCreated, Patch: statusPatch("42", order.StatusPending), Source: SourceHTTP})
	if created.Order.Status != order.StatusPending {
		t.Fatalf("created status = %s", created.Order.Status)
	}

	steps := []order.Status{
		order.StatusConfirmed,
		order.StatusPreparing,
		order.StatusReady,
		order.StatusOutForDelivery,
		order.StatusDelivered,
	}
	seen := map[order.Status]bool{order.StatusPending: true}
	for _, step := range steps {
		frame, _ := json.Marshal(map[string]any{"id": "42", "status": step})
		if err := d.Ingest(ctx, "orderStatusUpdate", frame); err != nil {
			t.Fatalf("Ingest(%s): %v", step, err)
		}
		o, _ := s.Get("42")
		if o.Status != step {
			t.Fatalf("status = %s, want %s", o.Status, step)
		}
		seen[step] = true

		// replaying every earlier status must never move it back
		for earlier := range seen {
			if earlier == step {
				continue
			}
			frame, _ := json.Marshal(map[string]any{"id": "42", "status": earlier})
			_ = d.Ingest(ctx, "orderStatusUpdate", frame)
		}
		if o, _ := s.Get("42"); o.Status != step {
			t.Fatalf("status regressed to %s after %s", o.Status, step)
		}
	}
}

func TestList_OldestFirst(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	t1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: order.Patch{ID: "b", CreatedAt: &t2}})
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: order.Patch{ID: "a", CreatedAt: &t1}})

	list := s.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("List() = %+v", list)
	}
}

func TestApply_CounterOrderAcceptsDelivered(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		patch order.Patch
	}{
		{"counter address", func() order.Patch {
			p := statusPatch("9", order.StatusReady)
			addr := "Pickup Counter"
			p.DeliveryAddress = &addr
			return p
		}()},
		{"pickup fulfillment", func() order.Patch {
			p := statusPatch("9", order.StatusReady)
			f := order.FulfillmentPickup
			p.Fulfillment = &f
			return p
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewStore(nil)
			mustApply(t, s, Update{Action: event.ActionCreated, Patch: tc.patch})
			res := mustApply(t, s, Update{Action: event.ActionStatusChanged, Patch: statusPatch("9", order.StatusDelivered)})

			if res.StatusRejected {
				t.Fatalf("server-confirmed completion rejected: %+v", res)
			}
			if o, _ := s.Get("9"); o.Status != order.StatusDelivered {
				t.Fatalf("status = %s, want delivered", o.Status)
			}
		})
	}
}

func TestApply_UnknownOrderWithoutStatusIsIgnored(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	var changes int
	s.OnChange(func(context.Context, Change) { changes++ })

	driverID := "D1"
	res := mustApply(t, s, Update{Action: event.ActionAssigned, Patch: order.Patch{ID: "5", DriverID: &driverID}})
	if !res.Ignored || res.Created {
		t.Fatalf("result = %+v, want ignored", res)
	}
	if _, ok := s.Get("5"); ok || changes != 0 {
		t.Fatalf("order placed without a status (changes=%d)", changes)
	}

	// with a status it is placed as reported
	ready := order.StatusReady
	res = mustApply(t, s, Update{Action: event.ActionAssigned, Patch: order.Patch{ID: "5", DriverID: &driverID, Status: &ready}})
	if !res.Created || res.Order.Status != order.StatusReady {
		t.Fatalf("result = %+v", res)
	}

	// known orders still merge statusless updates
	other := "D2"
	res = mustApply(t, s, Update{Action: event.ActionAssigned, Patch: order.Patch{ID: "5", DriverID: &other}})
	if res.Ignored || res.Order.DriverID != "D2" || res.Order.Status != order.StatusReady {
		t.Fatalf("result = %+v", res)
	}
}

func TestBind_AssignmentForUnknownOrderIsIgnored(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	d := dispatch.New(nil)
	s.Bind(d, nil)

	_ = d.Ingest(context.Background(), "deliveryAssigned", json.RawMessage(`{"id":"5","driverId":"D1"}`))
	if _, ok := s.Get("5"); ok {
		t.Fatal("assignment without a status created an order")
	}

	_ = d.Ingest(context.Background(), "orderCreated", json.RawMessage(`{"id":"6"}`))
	if o, ok := s.Get("6"); !ok || o.Status != order.StatusPending {
		t.Fatalf("created order = %+v, %v", o, ok)
	}
}

func TestApplyOrder_KeepsFieldsTheResponseLeftOut(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	seed, err := order.PatchFromEntity(map[string]any{
		"id": "77", "status": "ready", "deliveryAddress": "Dorm 4", "totalAmount": 12.5,
		"driverId": "D1", "fulfillment": "delivery",
		"items": []any{map[string]any{"productId": "p-1", "name": "Wrap", "quantity": 1.0, "price": 12.5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	mustApply(t, s, Update{Action: event.ActionCreated, Patch: seed})

	resp, err := order.PatchFromEntity(map[string]any{"id": "77", "status": "out_for_delivery"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.ApplyOrder(context.Background(), resp)
	if err != nil {
		t.Fatal(err)
	}

	o := res.Order
	if o.Status != order.StatusOutForDelivery {
		t.Fatalf("status = %s", o.Status)
	}
	if o.DeliveryAddress != "Dorm 4" || o.TotalAmount != 12.5 || o.DriverID != "D1" ||
		o.Fulfillment != order.FulfillmentDelivery || len(o.Items) != 1 {
		t.Fatalf("fields missing from the response were wiped: %+v", o)
	}
	if len(res.Changed) != 1 || res.Changed[0] != order.FieldStatus {
		t.Fatalf("changed = %v, want [status]", res.Changed)
	}
}
