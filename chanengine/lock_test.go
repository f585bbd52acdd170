package chanengine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestChannelLockerExclusive(t *testing.T) {
	locker := NewChannelLocker()
	channel := common.HexToAddress("0x1")

	release, err := locker.Acquire(context.Background(), channel, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, channel, time.Second)
	require.Error(t, err, "a second Acquire on the same channel must block until the first is released")

	release()

	_, err = locker.Acquire(context.Background(), channel, time.Second)
	require.NoError(t, err, "Acquire must succeed once the holder releases")
}

func TestChannelLockerIndependentPerChannel(t *testing.T) {
	locker := NewChannelLocker()
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")

	releaseA, err := locker.Acquire(context.Background(), a, time.Second)
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locker.Acquire(context.Background(), b, time.Second)
	require.NoError(t, err, "locks on different channels must not contend")
	releaseB()
}

func TestChannelLockerTTLExpires(t *testing.T) {
	locker := NewChannelLocker()
	channel := common.HexToAddress("0x2")

	release, err := locker.Acquire(context.Background(), channel, time.Second)
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = locker.Acquire(context.Background(), channel, 30*time.Millisecond)
	require.Error(t, err)
	require.WithinDuration(t, start.Add(30*time.Millisecond), time.Now(), 200*time.Millisecond)
}
