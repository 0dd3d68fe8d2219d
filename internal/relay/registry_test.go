package relay

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/peercall/internal/protocol"
)

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry()
	a, b := &Client{addr: "a"}, &Client{addr: "b"}

	r.Register(protocol.User{ID: "h1", Role: "host", DeviceName: "Host"}, a)
	r.Register(protocol.User{ID: "u1", Role: "user", DeviceName: "Cam"}, b)

	assert.Equal(t, []protocol.User{
		{ID: "h1", Role: "host", DeviceName: "Host"},
		{ID: "u1", Role: "user", DeviceName: "Cam"},
	}, r.List())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryOverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry()
	a, b := &Client{addr: "a"}, &Client{addr: "b"}

	r.Register(protocol.User{ID: "h1", Role: "host", DeviceName: "Old"}, a)
	r.Register(protocol.User{ID: "u1", Role: "user"}, b)
	r.Register(protocol.User{ID: "h1", Role: "host", DeviceName: "New"}, b)

	users := r.List()
	require.Len(t, users, 2)
	assert.Equal(t, "New", users[0].DeviceName)

	// a no longer owns h1, so removing it changes nothing
	assert.Zero(t, r.Remove(a))
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.Remove(b))
	assert.Empty(t, r.List())
}

// TestRegistryMatchesModel replays random register/remove sequences against
// a plain map of the latest registration per id.
func TestRegistryMatchesModel(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	clients := []*Client{{addr: "0"}, {addr: "1"}, {addr: "2"}, {addr: "3"}}

	for round := 0; round < 50; round++ {
		r := NewRegistry()
		model := map[string]struct {
			user  protocol.User
			owner *Client
		}{}

		for step := 0; step < 40; step++ {
			c := clients[rnd.Intn(len(clients))]
			if rnd.Intn(3) == 0 {
				r.Remove(c)
				for id, e := range model {
					if e.owner == c {
						delete(model, id)
					}
				}
				continue
			}
			u := protocol.User{
				ID:         fmt.Sprintf("id%d", rnd.Intn(6)),
				Role:       []string{"host", "user"}[rnd.Intn(2)],
				DeviceName: fmt.Sprintf("dev%d", step),
			}
			r.Register(u, c)
			model[u.ID] = struct {
				user  protocol.User
				owner *Client
			}{u, c}
		}

		got := r.List()
		require.Len(t, got, len(model), "round %d", round)
		for _, u := range got {
			e, ok := model[u.ID]
			require.True(t, ok, "round %d: %s listed after removal", round, u.ID)
			assert.Equal(t, e.user, u)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &Client{addr: fmt.Sprint(i)}
			for j := 0; j < 200; j++ {
				r.Register(protocol.User{ID: fmt.Sprintf("%d-%d", i, j%5), Role: "user", DeviceName: "d"}, c)
				for _, u := range r.List() {
					// a listed entry is always complete
					if u.ID == "" || u.Role == "" || u.DeviceName == "" {
						t.Errorf("partial entry %+v", u)
					}
				}
				if j%7 == 0 {
					r.Remove(c)
				}
			}
		}(i)
	}
	wg.Wait()
}
