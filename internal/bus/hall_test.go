package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"alixia/internal/document"
	"alixia/internal/identity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPostReachesEverySubscriber(t *testing.T) {
	h := NewHall(nil)
	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		h.Subscribe("s", func(document.Document) {
			got.Add(1)
			wg.Done()
		})
	}
	require.NoError(t, h.Post(document.NewAnnouncement(1, nil, identity.Controller, document.EventStarted)))
	wg.Wait()
	require.Equal(t, int32(3), got.Load())
	h.Close()
}

func TestCancelStopsDelivery(t *testing.T) {
	h := NewHall(nil)
	var got atomic.Int32
	sub := h.Subscribe("s", func(document.Document) { got.Add(1) })
	sub.Cancel()
	sub.Cancel()
	require.Equal(t, 0, h.Subscribers())
	require.NoError(t, h.Post(document.NewAnnouncement(1, nil, identity.Controller, document.EventStarted)))
	h.Close()
	require.Equal(t, int32(0), got.Load())
}

func TestCloseWaitsForDeliveriesAndRejectsPosts(t *testing.T) {
	h := NewHall(nil)
	release := make(chan struct{})
	var finished atomic.Bool
	h.Subscribe("slow", func(document.Document) {
		<-release
		finished.Store(true)
	})
	require.NoError(t, h.Post(document.NewAnnouncement(1, nil, identity.Controller, document.EventStarted)))
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	h.Close()
	require.True(t, finished.Load())
	require.ErrorIs(t, h.Post(document.NewAnnouncement(2, nil, identity.Controller, document.EventStarted)), ErrClosed)
}
