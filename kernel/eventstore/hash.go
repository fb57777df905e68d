package eventstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"goa.design/autonomy-kernel/kernel/types"
)

// computeHash hashes the chain input fields in the fixed order mandated for
// the hash chain, joined by a separator that cannot collide with any field
// value's own content (each field is length-prefixed).
func computeHash(prevHash string, seq int64, requestID string, typ types.EventType, canonPayload []byte, ts time.Time) string {
	h := sha256.New()
	writeField(h, []byte(prevHash))
	writeField(h, []byte(strconv.FormatInt(seq, 10)))
	writeField(h, []byte(requestID))
	writeField(h, []byte(typ))
	writeField(h, canonPayload)
	writeField(h, []byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyEventHash recomputes ev's EventHash from its own fields and
// reports whether it matches, detecting tampering of a single stored
// event independent of its neighbors in the global chain.
func VerifyEventHash(ev types.Event) (bool, error) {
	canon, err := canonicalize(ev.Payload)
	if err != nil {
		return false, err
	}
	want := computeHash(ev.PrevHash, ev.SequenceID, ev.RequestID, ev.Type, canon, ev.Timestamp)
	return want == ev.EventHash, nil
}

func writeField(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	n := len(b)
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * i))
	}
	h.Write(lenBuf[:])
	h.Write(b)
}
