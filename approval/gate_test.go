package approval

import (
	"errors"
	"testing"
	"time"

	"worldsd/model"
)

func TestSubmitApproved(t *testing.T) {
	g := NewGate()
	ch := g.Request("tc_1")

	if err := g.Submit("tc_1", true, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case d := <-ch:
		if d.ID != "tc_1" || d.Decision != model.DecisionApproved {
			t.Errorf("decision = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("decision never delivered")
	}
}

func TestSubmitRejectedWithReason(t *testing.T) {
	g := NewGate()
	ch := g.Request("tc_2")

	if err := g.Submit("tc_2", false, "looks destructive"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	d := <-ch
	if d.Decision != model.DecisionRejected || d.Reason != "looks destructive" {
		t.Errorf("decision = %+v", d)
	}
}

func TestDuplicateSubmitIsStale(t *testing.T) {
	g := NewGate()
	ch := g.Request("tc_3")

	if err := g.Submit("tc_3", true, ""); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if err := g.Submit("tc_3", false, "changed my mind"); !errors.Is(err, ErrStaleApproval) {
		t.Errorf("duplicate Submit error = %v, want ErrStaleApproval", err)
	}

	// The first decision stands.
	d := <-ch
	if d.Decision != model.DecisionApproved {
		t.Errorf("decision = %+v, want approved", d)
	}
}

func TestUnknownSubmitIsStale(t *testing.T) {
	g := NewGate()
	if err := g.Submit("never-requested", true, ""); !errors.Is(err, ErrStaleApproval) {
		t.Errorf("error = %v, want ErrStaleApproval", err)
	}
}

func TestExpireResolvesAsTimeout(t *testing.T) {
	g := NewGate()
	ch := g.Request("tc_4")

	g.Expire("tc_4")

	d := <-ch
	if d.Decision != model.DecisionRejected || d.Reason != TimeoutReason {
		t.Errorf("decision = %+v, want rejected/timeout", d)
	}

	// Expiring again is a no-op.
	g.Expire("tc_4")
	if g.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", g.PendingCount())
	}
}

func TestSubmitDoesNotBlockWithoutWaiter(t *testing.T) {
	g := NewGate()
	g.Request("tc_5")

	done := make(chan struct{})
	go func() {
		g.Submit("tc_5", true, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked with no reader on the decision channel")
	}
}
