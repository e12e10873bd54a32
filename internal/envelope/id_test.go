package envelope

import (
	"testing"
)

func TestComputeID_Deterministic(t *testing.T) {
	e := &Envelope{
		To:      "sales@acme.com",
		From:    "buyer@example.com",
		Subject: "Pricing question",
		Date:    "Mon, 02 Jan 2006 15:04:05 -0700",
	}

	id1, ok1 := ComputeID(e)
	id2, ok2 := ComputeID(e)
	if !ok1 || !ok2 {
		t.Fatal("expected deduplicable envelope")
	}
	if id1 != id2 {
		t.Errorf("repeated calls differ: %q vs %q", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("expected sha256 hex, got len %d", len(id1))
	}
}

func TestComputeID_NormalizesCaseAndSpace(t *testing.T) {
	a := &Envelope{To: "Sales@Acme.com ", From: " Buyer@Example.com", Subject: "Hello", Date: "x"}
	b := &Envelope{To: "sales@acme.com", From: "buyer@example.com", Subject: "hello", Date: "x"}

	idA, _ := ComputeID(a)
	idB, _ := ComputeID(b)
	if idA != idB {
		t.Errorf("normalized envelopes should share an ID: %q vs %q", idA, idB)
	}
}

func TestComputeID_IgnoresProviderID(t *testing.T) {
	a := &Envelope{To: "t@x.com", From: "f@x.com", Subject: "s", Date: "d", ProviderID: "msg-1"}
	b := &Envelope{To: "t@x.com", From: "f@x.com", Subject: "s", Date: "d", ProviderID: "msg-2"}

	idA, _ := ComputeID(a)
	idB, _ := ComputeID(b)
	if idA != idB {
		t.Error("provider message ID must not affect the envelope ID")
	}
}

func TestComputeID_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"missing to", Envelope{From: "f@x.com", Subject: "s"}},
		{"missing from", Envelope{To: "t@x.com", Subject: "s"}},
		{"missing subject", Envelope{To: "t@x.com", From: "f@x.com"}},
		{"whitespace only", Envelope{To: "  ", From: "f@x.com", Subject: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if id, ok := ComputeID(&tt.env); ok {
				t.Errorf("expected not deduplicable, got id %q", id)
			}
		})
	}
}

func TestComputeID_FieldBoundaries(t *testing.T) {
	// "ab"+"c" and "a"+"bc" across field boundaries must not collide.
	a := &Envelope{To: "ab", From: "c", Subject: "s", Date: ""}
	b := &Envelope{To: "a", From: "bc", Subject: "s", Date: ""}

	idA, okA := ComputeID(a)
	idB, okB := ComputeID(b)
	if !okA || !okB {
		t.Fatal("expected both deduplicable")
	}
	if idA == idB {
		t.Error("field boundary collision")
	}
}

func TestDeliveredTo(t *testing.T) {
	e := &Envelope{
		To: "sales@acme.com",
		Headers: map[string]string{
			"Delivered-To":  "intake@acme.com",
			"X-Envelope-To": "env@acme.com",
		},
	}
	got := e.DeliveredTo()
	want := []string{"sales@acme.com", "intake@acme.com", "env@acme.com"}
	if len(got) != len(want) {
		t.Fatalf("DeliveredTo() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DeliveredTo()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Sales@Acme.com", "sales@acme.com"},
		{"  Jane Doe <JANE@acme.com>  ", "jane@acme.com"},
		{"plain", "plain"},
		{"broken <no-close", "broken <no-close"},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
