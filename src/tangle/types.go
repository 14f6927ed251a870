package tangle

import (
	"encoding/hex"
	"fmt"
)

// MessageIDSize ...
const MessageIDSize = 32

// MessageID is the BLAKE2b-256 digest of a packed message.
type MessageID [MessageIDSize]byte

// NullMessageID is the parent of the first messages of the tangle. It is
// always considered present.
var NullMessageID MessageID

// String returns the hex encoding of the id.
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// MessageIDFromHex parses a hex encoded id.
func MessageIDFromHex(s string) (MessageID, error) {
	var id MessageID

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}

	if len(b) != MessageIDSize {
		return id, fmt.Errorf("message id must be %d bytes, got %d", MessageIDSize, len(b))
	}

	copy(id[:], b)
	return id, nil
}

// MilestoneIndex numbers milestones, starting at 1.
type MilestoneIndex uint32

// SyncStatus is published whenever the latest or the solid milestone index
// changes.
type SyncStatus struct {
	LatestMilestoneIndex    MilestoneIndex `json:"lmi"`
	ConfirmedMilestoneIndex MilestoneIndex `json:"lsmi"`
}
