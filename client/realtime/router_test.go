package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carexpert/client/domain"
)

func TestRouterDispatchOrder(t *testing.T) {
	r := NewRouter()
	var order []string
	r.Subscribe(func(domain.ChatEvent) { order = append(order, "first") })
	r.Subscribe(func(domain.ChatEvent) { order = append(order, "second") })

	r.Dispatch(domain.ChatEvent{Type: "message"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRouterUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRouter()
	calls := 0
	dispose := r.Subscribe(func(domain.ChatEvent) { calls++ })

	r.Dispatch(domain.ChatEvent{})
	dispose()
	r.Dispatch(domain.ChatEvent{})
	dispose()

	assert.Equal(t, 1, calls)
}
