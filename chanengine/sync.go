package chanengine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanerrors"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// syncUpdate is the shared helper spec §4.4 describes, invoked by the
// outbound flow after a StaleUpdate reply and by the inbound flow on
// diff==2. It never retries; the caller decides what to do with the
// synced state.
func (e *Engine) syncUpdate(ctx context.Context, prev *chanstate.ChannelState, active []*chanstate.Transfer,
	peerUpdate *chanstate.ChannelUpdate) (*chanstate.ChannelState, []*chanstate.Transfer, error) {

	if peerUpdate == nil {
		return nil, nil, chanerrors.New(chanerrors.CategoryProtocol, chanerrors.ReasonRestoreNeeded,
			"syncUpdate", errors.New("peer sent no update to sync from"))
	}
	if peerUpdate.Type == chanstate.UpdateSetup {
		return nil, nil, chanerrors.New(chanerrors.CategoryProtocol, chanerrors.ReasonCannotSyncSetup,
			"syncUpdate", errors.New("setup updates cannot be synced"))
	}
	if !peerUpdate.DoubleSigned() {
		return nil, nil, chanerrors.New(chanerrors.CategoryProtocol, chanerrors.ReasonCannotSyncSingleSigned,
			"syncUpdate", errors.New("update to sync from is not bilaterally signed"))
	}

	result, err := e.Validator.ValidateInbound(ctx, prev, active, peerUpdate)
	if err != nil {
		return nil, nil, err
	}
	result.NextState.LatestUpdate = peerUpdate
	if err := e.persist(result); err != nil {
		return nil, nil, err
	}

	log.Infof("synced channel %s to nonce %d", result.NextState.ChannelAddress.Hex(), result.NextState.Nonce)
	return result.NextState, result.NextActiveTransfers, nil
}
