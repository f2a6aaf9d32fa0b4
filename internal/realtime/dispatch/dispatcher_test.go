package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"canteen-sync/internal/domain/event"
)

type recorder struct {
	got []event.Event
}

func (r *recorder) handle(_ context.Context, ev event.Event) error {
	r.got = append(r.got, ev)
	return nil
}

func TestEmit_HandlersRunInRegistrationOrder(t *testing.T) {
	t.Parallel()

	d := New(nil)
	var order []int
	for i := 1; i <= 3; i++ {
		d.On(event.TypeOrderUpdated, func(context.Context, event.Event) error {
			order = append(order, i)
			return nil
		})
	}

	d.Emit(context.Background(), event.TypeOrderUpdated, event.New("", event.ActionUpdated, map[string]any{"id": "1"}))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("handlers ran as %v, want [1 2 3]", order)
	}
}

func TestEmit_ListenerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		first Handler
	}{
		{"error", func(context.Context, event.Event) error { return errors.New("boom") }},
		{"panic", func(context.Context, event.Event) error { panic("boom") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := New(nil)
			rec := &recorder{}
			d.On(event.TypeOrderUpdated, tc.first)
			d.On(event.TypeOrderUpdated, rec.handle)

			ctx := context.Background()
			d.Emit(ctx, event.TypeOrderUpdated, event.New("", event.ActionUpdated, map[string]any{"id": "1"}))
			d.Emit(ctx, event.TypeOrderUpdated, event.New("", event.ActionUpdated, map[string]any{"id": "2"}))

			if len(rec.got) != 2 {
				t.Fatalf("second listener got %d events, want 2", len(rec.got))
			}
			if rec.got[1].ID() != "2" {
				t.Errorf("second event id = %q, want 2", rec.got[1].ID())
			}
		})
	}
}

func TestEmit_UnknownTypeIsNoOp(t *testing.T) {
	t.Parallel()

	d := New(nil)
	d.Emit(context.Background(), event.Type("nobodyListens"), event.Event{})
}

func TestOff_RemovesOnlyThatListener(t *testing.T) {
	t.Parallel()

	d := New(nil)
	a, b := &recorder{}, &recorder{}
	idA := d.On(event.TypeProductUpdated, a.handle)
	d.On(event.TypeProductUpdated, b.handle)

	if !d.Off(event.TypeProductUpdated, idA) {
		t.Fatal("Off returned false for a registered listener")
	}
	if d.Off(event.TypeProductUpdated, idA) {
		t.Error("second Off for the same id returned true")
	}

	d.Emit(context.Background(), event.TypeProductUpdated, event.New("", event.ActionUpdated, nil))

	if len(a.got) != 0 {
		t.Errorf("removed listener received %d events", len(a.got))
	}
	if len(b.got) != 1 {
		t.Errorf("remaining listener received %d events, want 1", len(b.got))
	}
}

func TestRemoveAllListeners(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rec := &recorder{}
	d.On(event.TypeOrderUpdated, rec.handle)
	d.On(event.TypeOrderUpdated, rec.handle)
	d.On(event.TypeProductUpdated, rec.handle)

	d.RemoveAllListeners(event.TypeOrderUpdated)
	if n := d.ListenerCount(event.TypeOrderUpdated); n != 0 {
		t.Errorf("ListenerCount(orderUpdated) = %d, want 0", n)
	}
	if n := d.ListenerCount(event.TypeProductUpdated); n != 1 {
		t.Errorf("ListenerCount(productUpdated) = %d, want 1", n)
	}

	d.RemoveAllListeners("")
	if n := d.ListenerCount(event.TypeProductUpdated); n != 0 {
		t.Errorf("ListenerCount after removing all = %d, want 0", n)
	}
}

func TestEmit_LateRegistrationGetsNothingRetroactively(t *testing.T) {
	t.Parallel()

	d := New(nil)
	ctx := context.Background()
	d.Emit(ctx, event.TypeOrderCreated, event.New("", event.ActionCreated, map[string]any{"id": "1"}))

	rec := &recorder{}
	d.On(event.TypeOrderCreated, rec.handle)
	if len(rec.got) != 0 {
		t.Fatalf("late listener received %d events", len(rec.got))
	}
}

func TestEmit_ListenerMayRegisterDuringDispatch(t *testing.T) {
	t.Parallel()

	d := New(nil)
	late := &recorder{}
	d.On(event.TypeOrderUpdated, func(ctx context.Context, ev event.Event) error {
		d.On(event.TypeOrderUpdated, late.handle)
		d.Emit(ctx, event.TypeOrdersChanged, ev)
		return nil
	})

	d.Emit(context.Background(), event.TypeOrderUpdated, event.New("", event.ActionUpdated, map[string]any{"id": "1"}))

	if len(late.got) != 0 {
		t.Errorf("listener added during dispatch received the in-flight event")
	}
}

func TestIngest_FanOut(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		wire   string
		want   []event.Type
		action event.Action
	}{
		{"orderUpdated", []event.Type{event.TypeOrderUpdated, event.TypeOrderStatusChanged, event.TypeOrdersChanged}, event.ActionUpdated},
		{"orderCreated", []event.Type{event.TypeOrderCreated, event.TypeOrdersChanged}, event.ActionCreated},
		{"deliveryStarted", []event.Type{event.TypeDeliveryStarted, event.TypeOrderStatusChanged}, event.ActionStarted},
		{"productAvailabilityToggled", []event.Type{event.TypeProductAvailabilityToggled, event.TypeProductUpdated, event.TypeProductsChanged}, event.ActionAvailabilityToggled},
	}

	for _, tc := range testCases {
		t.Run(tc.wire, func(t *testing.T) {
			t.Parallel()

			d := New(nil)
			var seen []event.Type
			for _, typ := range tc.want {
				d.On(typ, func(_ context.Context, ev event.Event) error {
					seen = append(seen, ev.Type)
					if ev.Action != tc.action {
						t.Errorf("%s: action = %q, want %q", ev.Type, ev.Action, tc.action)
					}
					if ev.Wire != tc.wire {
						t.Errorf("%s: wire = %q, want %q", ev.Type, ev.Wire, tc.wire)
					}
					return nil
				})
			}

			if err := d.Ingest(context.Background(), tc.wire, json.RawMessage(`{"id":"9"}`)); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if len(seen) != len(tc.want) {
				t.Fatalf("emitted %v, want %v", seen, tc.want)
			}
			for i := range seen {
				if seen[i] != tc.want[i] {
					t.Errorf("emission %d = %q, want %q", i, seen[i], tc.want[i])
				}
			}
		})
	}
}

func TestIngest_UnwrapsNestedPayloads(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		payload    string
		wantID     string
		wantAction event.Action
	}{
		{"direct", `{"id":"77","status":"ready"}`, "77", event.ActionUpdated},
		{"data", `{"data":{"id":"77"}}`, "77", event.ActionUpdated},
		{"data.data", `{"action":"status_changed","data":{"data":{"id":"77"}}}`, "77", event.ActionStatusChanged},
		{"data.data.data", `{"data":{"data":{"action":"created","data":{"_id":"77"}}}}`, "77", event.ActionCreated},
		{"named key", `{"action":"deleted","order":{"id":77}}`, "77", event.ActionDeleted},
		{"alternate id key", `{"orderId":"77","status":"ready"}`, "77", event.ActionUpdated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := New(nil)
			rec := &recorder{}
			d.On(event.TypeOrderUpdated, rec.handle)

			if err := d.Ingest(context.Background(), "orderUpdated", json.RawMessage(tc.payload)); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if len(rec.got) != 1 {
				t.Fatalf("got %d events, want 1", len(rec.got))
			}
			ev := rec.got[0]
			if ev.ID() != tc.wantID {
				t.Errorf("id = %q, want %q", ev.ID(), tc.wantID)
			}
			if ev.Action != tc.wantAction {
				t.Errorf("action = %q, want %q", ev.Action, tc.wantAction)
			}
			if _, wrapped := ev.Entity["data"]; wrapped {
				t.Errorf("entity still wrapped: %v", ev.Entity)
			}
		})
	}
}

func TestIngest_DropsMalformedFrames(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"empty", ``, ErrNoEntity},
		{"not json", `{nope`, ErrNoEntity},
		{"array", `[1,2]`, ErrNoEntity},
		{"empty object", `{}`, ErrNoEntity},
		{"no id", `{"data":{"status":"ready"}}`, ErrMissingID},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := New(nil)
			rec := &recorder{}
			d.On(event.TypeOrderUpdated, rec.handle)

			err := d.Ingest(context.Background(), "orderUpdated", json.RawMessage(tc.payload))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Ingest error = %v, want %v", err, tc.wantErr)
			}
			if len(rec.got) != 0 {
				t.Errorf("malformed frame reached a listener")
			}
		})
	}
}

func TestIngest_UnknownWireIsIgnored(t *testing.T) {
	t.Parallel()

	d := New(nil)
	if err := d.Ingest(context.Background(), "somethingNew", json.RawMessage(`{"id":"1"}`)); err != nil {
		t.Fatalf("Ingest returned %v for an unknown wire name", err)
	}
}

func TestIngest_ChatFramesNeedNoID(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rec := &recorder{}
	d.On(event.TypeTypingStarted, rec.handle)

	if err := d.Ingest(context.Background(), "userTyping", json.RawMessage(`{"chatId":"c1","userId":"u1"}`)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].StringField("chatId") != "c1" {
		t.Fatalf("typing event not delivered: %+v", rec.got)
	}
}

func TestIngest_DataUpdateIsReemittedByKind(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		frame string
	}{
		{"flat", `{"type":"menu","version":3}`},
		{"wrapped", `{"type":"menu","data":{"items":[1,2]}}`},
		{"wrapped with id", `{"type":"menu","data":{"id":"m-1","items":[1,2]}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := New(nil)
			generic, derived := &recorder{}, &recorder{}
			d.On(event.TypeDataUpdated, generic.handle)
			d.On(event.Type("menuUpdated"), derived.handle)

			if err := d.Ingest(context.Background(), "dataUpdate", json.RawMessage(tc.frame)); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if len(generic.got) != 1 {
				t.Errorf("dataUpdated delivered %d times, want 1", len(generic.got))
			}
			if len(derived.got) != 1 {
				t.Fatalf("menuUpdated delivered %d times, want 1", len(derived.got))
			}
			if kind := derived.got[0].StringField("type"); kind != "menu" {
				t.Errorf("entity type = %q, want menu", kind)
			}
		})
	}
}

func TestEmit_ListenersGetIndependentEntities(t *testing.T) {
	t.Parallel()

	d := New(nil)
	d.On(event.TypeOrderUpdated, func(_ context.Context, ev event.Event) error {
		ev.Entity["status"] = "tampered"
		return nil
	})
	rec := &recorder{}
	d.On(event.TypeOrderUpdated, rec.handle)

	d.Emit(context.Background(), event.TypeOrderUpdated, event.New("", event.ActionUpdated, map[string]any{"id": "1", "status": "ready"}))

	if got := rec.got[0].StringField("status"); got != "ready" {
		t.Errorf("status = %q, want ready", got)
	}
}

func TestWireTable_EveryRouteHasTypes(t *testing.T) {
	t.Parallel()

	for _, name := range WireNames() {
		route, _ := Lookup(name)
		if len(route.Types) == 0 {
			t.Errorf("%s has no canonical types", name)
		}
	}
}

func TestPrimaryTypes(t *testing.T) {
	t.Parallel()

	types := PrimaryTypes()
	seen := make(map[event.Type]bool, len(types))
	for _, typ := range types {
		if seen[typ] {
			t.Errorf("%s listed twice", typ)
		}
		seen[typ] = true
	}
	for _, name := range WireNames() {
		route, _ := Lookup(name)
		if !seen[route.Types[0]] {
			t.Errorf("%s: primary type %s missing", name, route.Types[0])
		}
	}
}
