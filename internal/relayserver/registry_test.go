package relayserver

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushWithoutSession(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Push("bob", Message{ID: "m1"}))
}

func TestRegisterThenPush(t *testing.T) {
	r := NewRegistry()
	s := r.Register("bob")

	require.True(t, r.Push("bob", Message{ID: "m1", Content: []byte("x")}))
	m := <-s.ch
	require.Equal(t, "m1", m.ID)
	require.Equal(t, []byte("x"), m.Content)
}

func TestRegisterDisplacesPreviousSession(t *testing.T) {
	r := NewRegistry()
	old := r.Register("bob")
	fresh := r.Register("bob")

	select {
	case <-old.done:
	default:
		t.Fatal("displaced session was not ended")
	}

	require.True(t, r.Push("bob", Message{ID: "m1"}))
	select {
	case <-fresh.ch:
	default:
		t.Fatal("push did not reach the new session")
	}
	require.Len(t, old.ch, 0)
}

func TestDeregisterOnlyRemovesOwnSession(t *testing.T) {
	r := NewRegistry()
	old := r.Register("bob")
	fresh := r.Register("bob")

	// The displaced handler deregisters late; the new session stays.
	r.Deregister("bob", old)
	require.True(t, r.Push("bob", Message{ID: "m1"}))
	require.Len(t, fresh.ch, 1)

	r.Deregister("bob", fresh)
	require.False(t, r.Push("bob", Message{ID: "m2"}))
}

func TestPushAfterEndFails(t *testing.T) {
	r := NewRegistry()
	s := r.Register("bob")
	r.Deregister("bob", s)
	require.False(t, r.Push("bob", Message{ID: "m1"}))
}

func TestPushFailsWhenBufferFull(t *testing.T) {
	r := NewRegistry()
	r.Register("bob")

	for i := 0; i < sessionBuffer; i++ {
		require.True(t, r.Push("bob", Message{ID: fmt.Sprintf("m-%d", i)}))
	}
	require.False(t, r.Push("bob", Message{ID: "overflow"}))
}

func TestCloseAllEndsEverySession(t *testing.T) {
	r := NewRegistry()
	sessions := make([]*session, 0, 8)
	for i := 0; i < 8; i++ {
		sessions = append(sessions, r.Register(fmt.Sprintf("client-%d", i)))
	}
	r.CloseAll()
	for i, s := range sessions {
		select {
		case <-s.done:
		default:
			t.Fatalf("session %d still open after CloseAll", i)
		}
		require.False(t, r.Push(fmt.Sprintf("client-%d", i), Message{}))
	}
}

// TestRegistryChurn exercises concurrent register, push, and
// deregister under the race detector.
func TestRegistryChurn(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for c := 0; c < 8; c++ {
		client := fmt.Sprintf("client-%d", c)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := r.Register(client)
				r.Deregister(client, s)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Push(client, Message{ID: "m"})
			}
		}()
	}
	wg.Wait()
	r.CloseAll()
}
