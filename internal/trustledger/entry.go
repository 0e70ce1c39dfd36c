// Package trustledger is an append-only, hash-chained audit trail of
// kill-switch activations.
//
// The chain starts at a genesis entry whose Hash is GenesisHash. Each later
// entry commits to its predecessor's hash, so rewriting or dropping an entry
// breaks Verify.
package trustledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// GenesisHash is the hash of entry 0 and the anchor of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action names the event an entry records.
type Action string

const (
	ActionGenesis    Action = "genesis"
	ActionKillSwitch Action = "kill_switch"
)

// Entry is one link of the chain.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agentId"`
	Action    Action    `json:"action"`
	Actor     string    `json:"actor"`
	DataHash  string    `json:"dataHash"` // digest of the JSON payload
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
}

// KillSwitchRecord is the payload committed for ActionKillSwitch.
type KillSwitchRecord struct {
	Reason             string    `json:"reason"`
	TicketsInvalidated bool      `json:"ticketsInvalidated"`
	NotifiedParties    int       `json:"notifiedParties"`
	ActivatedAt        time.Time `json:"activatedAt"`
}

func genesis(at time.Time) *Entry {
	return &Entry{
		Timestamp: at,
		Action:    ActionGenesis,
		Actor:     "agntor-system",
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// PayloadDigest returns the DataHash an entry carries for payload, so a
// record kept elsewhere can be checked against the ledger.
func PayloadDigest(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// link fills in DataHash, PrevHash and Hash for e as the successor of prev.
func link(e *Entry, prev *Entry, payload any) error {
	digest, err := PayloadDigest(payload)
	if err != nil {
		return err
	}
	e.Index = prev.Index + 1
	e.DataHash = digest
	e.PrevHash = prev.Hash
	e.Hash = hashEntry(e)
	return nil
}

// hashEntry is never applied to the genesis entry.
func hashEntry(e *Entry) string {
	sum := blake2b.Sum256(fmt.Appendf(nil, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.AgentID, e.Action, e.Actor, e.DataHash, e.PrevHash,
	))
	return hex.EncodeToString(sum[:])
}

// verifyChain checks entries in index order, starting at genesis.
func verifyChain(entries []*Entry) error {
	var prev *Entry
	for _, curr := range entries {
		if prev == nil {
			if curr.Index != 0 || curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.Index != prev.Index+1 {
			return fmt.Errorf("gap in chain after index %d", prev.Index)
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return nil
}
