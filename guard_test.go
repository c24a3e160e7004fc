package asynctimemock

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardReleaseWakesExactlyOneWaiter(t *testing.T) {
	guard, fin := newGuardPair(zerolog.Nop())

	select {
	case <-fin.wait():
		t.Fatal("handlerFinished must not be ready before Release")
	default:
	}

	guard.Release()

	select {
	case <-fin.wait():
	default:
		t.Fatal("handlerFinished must be ready immediately after Release")
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	guard, fin := newGuardPair(zerolog.Nop())
	assert.NotPanics(t, func() {
		guard.Release()
		guard.Release()
		guard.Release()
	})
	<-fin.wait()
}

func TestReleasedGuardIsAlreadyDone(t *testing.T) {
	g := newReleasedGuard()
	select {
	case <-g.done:
	default:
		t.Fatal("a released guard must already be done before any Release call")
	}
	require.NotPanics(t, g.Release)
}
